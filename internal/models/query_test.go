package models

import (
	"testing"
)

func TestSearchQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   *SearchQuery
		wantErr bool
	}{
		{"empty query", &SearchQuery{Query: ""}, true},
		{"valid query", &SearchQuery{Query: "검은 지갑"}, false},
		{"zero top_k is left for the engine", &SearchQuery{Query: "x", TopK: 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestItem_Text(t *testing.T) {
	it := &Item{Name: "지갑", Description: "검은색 가죽", Caption: "카드 슬롯"}
	if got := it.Text(); got != "지갑 검은색 가죽 카드 슬롯" {
		t.Errorf("Text() = %q", got)
	}
	empty := &Item{}
	if got := empty.Text(); got != "" {
		t.Errorf("Text() on empty item = %q, want empty", got)
	}
}
