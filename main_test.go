package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskConnectionString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://user:secret@db:5432/prices", "postgres://user:xxxxx@db:5432/prices"},
		{"postgres://user@db/prices", "postgres://user@db/prices"},
		{"host=db user=x", "host=db user=x"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, maskConnectionString(tt.in))
	}
}
