package capture

import "strings"

type transcript struct {
	finalized strings.Builder
	interim   string
}

func (t *transcript) apply(result Result) {
	var interim strings.Builder
	for _, segment := range result.Segments {
		if segment.Final {
			t.finalized.WriteString(segment.Text)
			t.finalized.WriteString(" ")
			continue
		}
		interim.WriteString(segment.Text)
	}
	t.interim = interim.String()
}

func (t *transcript) String() string {
	return t.finalized.String() + t.interim
}

func (t *transcript) reset() {
	t.finalized.Reset()
	t.interim = ""
}
