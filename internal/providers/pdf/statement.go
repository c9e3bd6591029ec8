package pdf

import (
	"bytes"
	"context"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// StatementData is the pre-formatted content of a deposit statement.
type StatementData struct {
	DepositID        string
	BookingReference string
	ListingTitle     string
	StayPeriod       string
	Status           string
	IssuedAt         string

	Authorized string
	Captured   string
	Released   string

	CaptureReason string
	Evidence      []string
	ReleaseReason string
	Events        []StatementEvent
}

type StatementEvent struct {
	At          string
	Description string
}

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateDepositStatement(ctx context.Context, data StatementData) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, "Security deposit statement", props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, "StayLedger", props.Text{Size: 12, Align: align.Right}),
	)

	m.AddRow(24,
		col.New(6).Add(
			text.New("Deposit: "+data.DepositID, props.Text{Top: 0}),
			text.New("Booking: "+data.BookingReference, props.Text{Top: 5}),
			text.New("Issued: "+data.IssuedAt, props.Text{Top: 10}),
		),
		col.New(6).Add(
			text.New(data.ListingTitle, props.Text{Style: fontstyle.Bold}),
			text.New("Stay: "+data.StayPeriod, props.Text{Top: 5}),
			text.New("Status: "+data.Status, props.Text{Top: 10}),
		),
	)

	m.AddRow(10,
		text.NewCol(8, "Amount", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(4, "Value", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	for _, line := range [][2]string{
		{"Authorized hold", data.Authorized},
		{"Captured", data.Captured},
		{"Released to guest", data.Released},
	} {
		m.AddRow(8,
			text.NewCol(8, line[0], props.Text{Size: 9}),
			text.NewCol(4, line[1], props.Text{Size: 9, Align: align.Right}),
		)
	}

	if data.CaptureReason != "" {
		m.AddRow(12,
			text.NewCol(12, "Capture reason: "+data.CaptureReason, props.Text{Size: 10, Top: 4}),
		)
		for _, item := range data.Evidence {
			m.AddRow(6, text.NewCol(12, "Evidence: "+item, props.Text{Size: 8}))
		}
	}
	if data.ReleaseReason != "" {
		m.AddRow(12,
			text.NewCol(12, "Release reason: "+data.ReleaseReason, props.Text{Size: 10, Top: 4}),
		)
	}

	if len(data.Events) > 0 {
		m.AddRow(12, text.NewCol(12, "History", props.Text{Style: fontstyle.Bold, Size: 10, Top: 4}))
		for _, event := range data.Events {
			m.AddRow(6,
				text.NewCol(4, event.At, props.Text{Size: 8}),
				text.NewCol(8, event.Description, props.Text{Size: 8}),
			)
		}
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(doc.GetBytes()), nil
}
