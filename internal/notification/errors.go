package notification

import "errors"

var ErrRecipientNotFound = errors.New("recipient_not_found")

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
