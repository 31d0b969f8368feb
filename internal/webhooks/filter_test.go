package webhooks

import "testing"

func TestEventFilter(t *testing.T) {
	cases := []struct {
		filters []string
		evt     string
		want    bool
	}{
		{nil, "task.status.updated", true},
		{[]string{"*"}, "project.created", true},
		{[]string{"task.status.updated"}, "task.status.updated", true},
		{[]string{"task.status.updated"}, "project.created", false},
		{[]string{"project.*"}, "project.data.set", true},
		{[]string{"project.*"}, "projects.x", false},
		{[]string{" ", ""}, "anything", true},
	}
	for _, tc := range cases {
		if got := newEventFilter(tc.filters).match(tc.evt); got != tc.want {
			t.Fatalf("filter %v match %q = %v, want %v", tc.filters, tc.evt, got, tc.want)
		}
	}
}
