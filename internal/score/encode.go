package score

import (
	"encoding/json"
	"math"
	"strconv"
)

// MarshalJSON writes non-finite values, such as the worst-score sentinel, as
// the strings "+Inf", "-Inf" and "NaN".
func (s Scores) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s))
	for k, v := range s {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			out[k] = strconv.FormatFloat(v, 'g', -1, 64)
			continue
		}
		out[k] = v
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts numbers and the strings written by MarshalJSON.
func (s *Scores) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Scores, len(raw))
	for k, msg := range raw {
		var v float64
		if err := json.Unmarshal(msg, &v); err == nil {
			out[k] = v
			continue
		}
		var str string
		if err := json.Unmarshal(msg, &str); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return err
		}
		out[k] = f
	}
	*s = out
	return nil
}
