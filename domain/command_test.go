package domain

import (
	"market-chat/errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateSendMessage(t *testing.T) {
	tests := []struct {
		name    string
		cmd     SendMessageCommand
		max     int
		wantErr error
	}{
		{"Valid message", SendMessageCommand{"L7", "u2", "Is this still available?"}, 0, nil},
		{"Missing listing", SendMessageCommand{"", "u2", "hello"}, 0, errors.ErrValidation},
		{"Missing receiver", SendMessageCommand{"L7", "  ", "hello"}, 0, errors.ErrValidation},
		{"Blank body", SendMessageCommand{"L7", "u2", " \n\t "}, 0, errors.ErrValidation},
		{"Self message", SendMessageCommand{"L7", "u1", "hello"}, 0, errors.ErrSelfMessage},
		{"Body too long", SendMessageCommand{"L7", "u2", strings.Repeat("é", 11)}, 10, errors.ErrValidation},
		{"Body at limit", SendMessageCommand{"L7", "u2", strings.Repeat("é", 10)}, 10, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			msg, err := ValidateSendMessage(tt.cmd, "u1", tt.max)
			if tt.wantErr != nil {
				req.ErrorIs(err, tt.wantErr)
				return
			}
			req.NoError(err)
			req.Equal("u1", msg.Sender)
			req.Equal(tt.cmd.ReceiverID, msg.Receiver)
		})
	}
}

func TestValidateSendMessage_Trims_Body(t *testing.T) {
	req := require.New(t)
	msg, err := ValidateSendMessage(SendMessageCommand{" L7 ", "u2", "  hi there \n"}, "u1", 0)
	req.NoError(err)
	req.Equal("hi there", msg.Body)
	req.Equal("L7", msg.ListingID)
}

func TestValidateSendMessage_Reports_Wire_Field_Names(t *testing.T) {
	req := require.New(t)
	_, err := ValidateSendMessage(SendMessageCommand{}, "u1", 0)
	req.ErrorIs(err, errors.ErrValidation)
	req.Contains(err.Error(), "listingId")
	req.Contains(err.Error(), "receiverId")
	req.Contains(err.Error(), "message")
}

func TestValidateTyping_And_Listing(t *testing.T) {
	req := require.New(t)

	_, err := ValidateTyping(TypingCommand{ListingID: "L1", ReceiverID: "u1"}, "u1")
	req.ErrorIs(err, errors.ErrSelfMessage)

	cmd, err := ValidateTyping(TypingCommand{ListingID: " L1", ReceiverID: "u2 "}, "u1")
	req.NoError(err)
	req.Equal("u2", cmd.ReceiverID)

	_, err = ValidateListing(ListingCommand{ListingID: "   "})
	req.ErrorIs(err, errors.ErrValidation)
}
