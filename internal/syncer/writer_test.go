package syncer

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

func TestIsTxnUnsupported(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("connection reset"), false},
		{"illegal operation code", mongo.CommandError{Code: codeIllegalOperation}, true},
		{"no such transaction code", mongo.CommandError{Code: codeNoSuchTransaction}, true},
		{"standalone message", mongo.CommandError{Code: 72, Message: txnUnsupportedMessage}, true},
		{"unrelated server error", mongo.CommandError{Code: 11000, Message: "duplicate key"}, false},
		{"wrapped server error", fmt.Errorf("write failed: %w", mongo.CommandError{Code: codeIllegalOperation}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTxnUnsupported(tt.err))
		})
	}
}
