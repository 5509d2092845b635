package remote

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCurrentVersion(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"integer", `{"currentVersionNumber": 5}`, "5"},
		{"string", `{"currentVersionNumber": "12"}`, "12"},
		{"versions list", `{"versions": [{"versionNumber": 9}, {"versionNumber": 8}]}`, "9"},
		{"current wins over list", `{"currentVersionNumber": 3, "versions": [{"versionNumber": 9}]}`, "3"},
		{"null current falls back to list", `{"currentVersionNumber": null, "versions": [{"versionNumber": 2}]}`, "2"},
		{"empty object", `{}`, "1"},
		{"empty versions", `{"versions": []}`, "1"},
		{"not an object", `[1,2]`, "1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseCurrentVersion(json.RawMessage(tc.raw)))
		})
	}
}
