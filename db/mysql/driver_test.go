package mysql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOpen_EmptyDSN(t *testing.T) {
	_, err := Open("", 10, 5, time.Hour)
	assert.ErrorIs(t, err, ErrEmptyDSN)
}
