package recall

import "testing"

func TestClassifyPrecedence(t *testing.T) {
	cases := []struct {
		query string
		want  QueryType
	}{
		{"what should i plan next for this procedure", TypePlanning},
		{"how do i connect to the related entity", TypeProcedural},
		{"when did this happen, recently or yesterday", TypeTemporal},
		{"what is the deal with this", TypeFactual},
		{"what's my todo list today", TypeProspective},
		{"show me memory coverage and expertise", TypeMeta},
		{"who is connected to the auth module", TypeRelational},
	}
	for _, c := range cases {
		if got := Classify(c.query); got != c.want {
			t.Errorf("Classify(%q) = %q, want %q", c.query, got, c.want)
		}
	}
}

func TestClassifyDefaultsToFactual(t *testing.T) {
	if got := Classify("tell me about the database schema"); got != TypeFactual {
		t.Errorf("got %q, want factual", got)
	}
}
