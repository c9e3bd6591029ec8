package pagination

import "testing"

func TestCursorRoundTripAndPageInfo(t *testing.T) {
	token, err := EncodeCursor(Cursor{ID: "42", CreatedAt: "2026-01-01T00:00:00Z"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	cursor, err := DecodeCursor(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cursor.ID != "42" {
		t.Fatalf("expected id 42, got %q", cursor.ID)
	}

	items := []*int{new(int), new(int), new(int)}
	info := BuildCursorPageInfo(items, 2, func(*int) string { return "next" })
	if !info.HasMore || info.NextPageToken != "next" {
		t.Fatalf("expected more pages, got %+v", info)
	}

	if _, err := DecodeCursor("%%%"); err == nil {
		t.Fatalf("expected invalid token error")
	}
	if (Pagination{PageSize: 1000}).Limit() != MaxPageSize {
		t.Fatalf("expected page size clamp")
	}
}
