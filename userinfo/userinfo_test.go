package userinfo

import "testing"

func TestParse(t *testing.T) {
	info := Parse(`\name\Player\rate\8000\cl_predict\1`)
	want := map[string]string{
		"name":       "Player",
		"rate":       "8000",
		"cl_predict": "1",
	}
	if len(info) != len(want) {
		t.Fatalf("want %d keys, got %d: %+v", len(want), len(info), info)
	}
	for k, v := range want {
		if info[k] != v {
			t.Errorf("info[%q]: want %q, got %q", k, v, info[k])
		}
	}
}

func TestParseMissingLeadingBackslash(t *testing.T) {
	info := Parse("name=Player")
	if len(info) != 0 {
		t.Errorf("want empty Info for a string missing the leading backslash, got %+v", info)
	}
}

func TestParseEmpty(t *testing.T) {
	info := Parse("")
	if len(info) != 0 {
		t.Errorf("want empty Info for an empty string, got %+v", info)
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	orig := Info{"name": "Player", "rate": "8000"}
	reparsed := Parse(orig.Format())
	if len(reparsed) != len(orig) {
		t.Fatalf("want %d keys after round trip, got %d", len(orig), len(reparsed))
	}
	for k, v := range orig {
		if reparsed[k] != v {
			t.Errorf("reparsed[%q]: want %q, got %q", k, v, reparsed[k])
		}
	}
}
