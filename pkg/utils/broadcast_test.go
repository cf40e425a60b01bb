package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBroadcast(t *testing.T) {
	bc := NewBroadcast[string]()
	c1 := bc.NewConsumer()
	c2 := bc.NewConsumer()
	bc.Send("policy-v1")

	msg := <-c1.Chan
	assert.Equal(t, "policy-v1", msg)

	msg = <-c2.Chan
	assert.Equal(t, "policy-v1", msg)
}

func TestBroadcastRemovedConsumer(t *testing.T) {
	bc := NewBroadcast[string]()
	c1 := bc.NewConsumer()
	c2 := bc.NewConsumer()
	c1.Close()

	bc.Send("policy-v2")

	msg, ok := <-c2.Chan
	assert.True(t, ok)
	assert.Equal(t, "policy-v2", msg)

	_, ok = <-c1.Chan
	assert.False(t, ok)
}
