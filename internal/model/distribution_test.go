package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregate_Precedence(t *testing.T) {
	tests := []struct {
		name     string
		statuses map[string]DestStatus
		want     DestStatus
	}{
		{"failed dominates", map[string]DestStatus{"a": DestSuccess, "b": DestFailed, "c": DestStarted}, DestFailed},
		{"started keeps pending", map[string]DestStatus{"a": DestSuccess, "b": DestStarted}, DestStarted},
		{"init keeps pending", map[string]DestStatus{"a": DestSuccess, "b": DestInit}, DestInit},
		{"all success", map[string]DestStatus{"a": DestSuccess, "b": DestSuccess}, DestSuccess},
		{"empty", map[string]DestStatus{}, DestSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := NewDistributionItem(1, nil, nil)
			for d, s := range tt.statuses {
				item.SetStatus(d, s)
			}
			assert.Equal(t, tt.want, item.Aggregate())
		})
	}
}

func TestDistributionItem_Lifecycle(t *testing.T) {
	item := NewDistributionItem(10, nil, []string{"2", "example.com"})

	assert.Equal(t, DestInit, item.Status("2"))
	assert.False(t, item.Done())

	item.SetStatus("2", DestStarted)
	item.SetStatus("example.com", DestStarted)
	assert.Equal(t, DestStarted, item.Aggregate())

	item.SetStatus("2", DestSuccess)
	item.SetError("example.com", "connection refused")

	assert.True(t, item.Done())
	assert.Equal(t, DestFailed, item.Aggregate())
	assert.Equal(t, "connection refused", item.Errors()["example.com"])
}

func TestNewDistributionItem_UniqueIDs(t *testing.T) {
	a := NewDistributionItem(1, nil, nil)
	b := NewDistributionItem(1, nil, nil)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}
