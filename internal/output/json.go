package output

import "encoding/json"

// JSONFormatter encodes the whole report.
type JSONFormatter struct {
	Pretty bool
}

func (JSONFormatter) Name() string { return "json" }

func (jf JSONFormatter) Format(r *Report) ([]byte, error) {
	if jf.Pretty {
		return json.MarshalIndent(r, "", "  ")
	}
	return json.Marshal(r)
}
