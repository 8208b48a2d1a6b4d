package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

func TestIsBenignSchemaError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("network down"), false},
		{"namespace exists", mongo.CommandError{Code: codeNamespaceExists}, true},
		{"index options conflict", mongo.CommandError{Code: codeIndexOptionsConflict}, true},
		{"index key specs conflict", mongo.CommandError{Code: codeIndexKeySpecsConflict}, true},
		{"index already exists", mongo.CommandError{Code: codeIndexAlreadyExists}, true},
		{"already exists message", mongo.CommandError{Code: 1, Message: "index chunk_vector already exists"}, true},
		{"unrelated server error", mongo.CommandError{Code: 13, Message: "unauthorized"}, false},
		{"wrapped benign error", fmt.Errorf("ensure index: %w", mongo.CommandError{Code: codeNamespaceExists}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isBenignSchemaError(tt.err))
		})
	}
}
