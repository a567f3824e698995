package fence

import "testing"

func TestSQL(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   string
		wantOK bool
	}{
		{
			name:   "single block",
			text:   "Here:\n```sql\nSELECT * FROM users\n```",
			want:   "SELECT * FROM users",
			wantOK: true,
		},
		{
			name:   "upper case tag",
			text:   "```SQL\nselect 1\n```",
			want:   "select 1",
			wantOK: true,
		},
		{
			name:   "first of two blocks",
			text:   "```sql\nSELECT 1\n```\nthen\n```sql\nSELECT 2\n```",
			want:   "SELECT 1",
			wantOK: true,
		},
		{
			name:   "multi line body trimmed",
			text:   "```sql   \n  SELECT a,\n  b\nFROM t  \n\n```",
			want:   "SELECT a,\n  b\nFROM t",
			wantOK: true,
		},
		{
			name:   "inline fence",
			text:   "```sql SELECT 1```",
			want:   "SELECT 1",
			wantOK: true,
		},
		{
			name: "no block",
			text: "Just prose.",
		},
		{
			name: "other tag",
			text: "```python\nprint(1)\n```",
		},
		{
			name: "unterminated block",
			text: "```sql\nSELECT 1",
		},
		{
			name: "empty block",
			text: "```sql\n\n```",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SQL(tt.text)
			if ok != tt.wantOK || got != tt.want {
				t.Fatalf("SQL() = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestVisualization(t *testing.T) {
	text := "```sql\nSELECT 1\n```\n```visualization\n{\"type\": \"bar\"}\n```"
	got, ok := Visualization(text)
	if !ok || got != `{"type": "bar"}` {
		t.Fatalf("Visualization() = %q, %v", got, ok)
	}
	if _, ok := Visualization("```sql\nSELECT 1\n```"); ok {
		t.Fatal("expected no visualization block")
	}
}
