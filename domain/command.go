package domain

import (
	"fmt"
	"market-chat/errors"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report the wire names, not the Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// SendMessageCommand is the data of a send_message event.
type SendMessageCommand struct {
	ListingID  string `json:"listingId" validate:"required"`
	ReceiverID string `json:"receiverId" validate:"required"`
	Message    string `json:"message" validate:"required"`
}

// TypingCommand is the data of typing and stop_typing events.
type TypingCommand struct {
	ListingID  string `json:"listingId" validate:"required"`
	ReceiverID string `json:"receiverId" validate:"required"`
}

// ListingCommand is the data of join_listing and leave_listing events.
type ListingCommand struct {
	ListingID string `json:"listingId" validate:"required"`
}

// ValidateSendMessage trims the command and turns it into a NewMessage
// sent by senderID. maxLength bounds the body in runes, 0 disables the bound.
func ValidateSendMessage(cmd SendMessageCommand, senderID string, maxLength int) (NewMessage, error) {
	cmd.ListingID = strings.TrimSpace(cmd.ListingID)
	cmd.ReceiverID = strings.TrimSpace(cmd.ReceiverID)
	cmd.Message = strings.TrimSpace(cmd.Message)

	if err := structErr(validate.Struct(cmd)); err != nil {
		return NewMessage{}, err
	}
	if maxLength > 0 && utf8.RuneCountInString(cmd.Message) > maxLength {
		return NewMessage{}, fmt.Errorf("%w: message exceeds %d characters", errors.ErrValidation, maxLength)
	}
	if cmd.ReceiverID == senderID {
		return NewMessage{}, errors.ErrSelfMessage
	}
	return NewMessage{
		Sender:    senderID,
		Receiver:  cmd.ReceiverID,
		ListingID: cmd.ListingID,
		Body:      cmd.Message,
	}, nil
}

func ValidateTyping(cmd TypingCommand, senderID string) (TypingCommand, error) {
	cmd.ListingID = strings.TrimSpace(cmd.ListingID)
	cmd.ReceiverID = strings.TrimSpace(cmd.ReceiverID)
	if err := structErr(validate.Struct(cmd)); err != nil {
		return TypingCommand{}, err
	}
	if cmd.ReceiverID == senderID {
		return TypingCommand{}, errors.ErrSelfMessage
	}
	return cmd, nil
}

func ValidateListing(cmd ListingCommand) (ListingCommand, error) {
	cmd.ListingID = strings.TrimSpace(cmd.ListingID)
	if err := structErr(validate.Struct(cmd)); err != nil {
		return ListingCommand{}, err
	}
	return cmd, nil
}

func structErr(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fe.Field())
	}
	return fmt.Errorf("%w: missing required field(s): %s", errors.ErrValidation, strings.Join(fields, ", "))
}
