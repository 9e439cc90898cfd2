package ai

import "testing"

type flexPayload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestUnmarshalFlexible(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    flexPayload
		wantErr bool
	}{
		{
			name:  "valid json",
			input: `{"name":"alpha","count":2}`,
			want:  flexPayload{Name: "alpha", Count: 2},
		},
		{
			name:  "double encoded",
			input: `"{\"name\":\"beta\",\"count\":3}"`,
			want:  flexPayload{Name: "beta", Count: 3},
		},
		{
			name:  "repairable json",
			input: `{"name": "gamma", "count": 4,}`,
			want:  flexPayload{Name: "gamma", Count: 4},
		},
		{
			name:    "wrong shape",
			input:   `[1, 2`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got flexPayload
			err := UnmarshalFlexible(tt.input, &got)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
