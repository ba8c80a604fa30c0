package wire

import "testing"

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindInvocation:      "Invocation",
		KindReturn:          "Return",
		KindNewReference:    "NewReference",
		KindFinalize:        "Finalize",
		KindReferenceUse:    "ReferenceUse",
		KindRemoteInterface: "RemoteInterface",
		KindCodebaseUpdate:  "CodebaseUpdate",
		KindInterruption:    "Interruption",
		Kind(99):            "Unknown",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
