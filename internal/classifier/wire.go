package classifier

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// response is the JSON shape every endpoint returns. Optional fields vary by
// endpoint, so each one is decoded leniently and checked explicitly.
type response struct {
	Prediction      flexNumber  `json:"prediction"`
	Confidence      *flexNumber `json:"confidence"`
	IsSpoofed       *string     `json:"is_spoofed"`
	SpoofConfidence *flexNumber `json:"spoof_confidence"`
}

// flexNumber accepts 1, 1.0, "1", true and null.
type flexNumber struct {
	Value float64
	Set   bool
}

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		return nil
	case bytes.Equal(b, []byte("true")):
		f.Value, f.Set = 1, true
		return nil
	case bytes.Equal(b, []byte("false")):
		f.Value, f.Set = 0, true
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return errors.Wrapf(err, "not a number: %q", s)
		}
		f.Value, f.Set = v, true
		return nil
	}

	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return errors.Wrap(err, "not a number")
	}
	f.Value, f.Set = v, true
	return nil
}

func (f *flexNumber) ptr() *float64 {
	if f == nil || !f.Set {
		return nil
	}
	v := f.Value
	return &v
}

// normalize converts the wire response into a Result. Spoof fields are kept
// only when withSpoof is set and the backend supplied a spoof flag.
func (r response) normalize(withSpoof bool) Result {
	res := Result{
		Malicious:  r.Prediction.Set && r.Prediction.Value == 1,
		Confidence: r.Confidence.ptr(),
	}
	if withSpoof && r.IsSpoofed != nil {
		res.Spoof = &Spoof{
			Spoofed:    strings.EqualFold(strings.TrimSpace(*r.IsSpoofed), "spoofed"),
			Confidence: r.SpoofConfidence.ptr(),
		}
	}
	return res
}
