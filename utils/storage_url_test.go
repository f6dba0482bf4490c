package utils

import "testing"

func TestObjectURLBuilder(t *testing.T) {
	cases := []struct {
		name    string
		builder ObjectURLBuilder
		want    string
	}{
		{"host and bucket", ObjectURLBuilder{Host: "storage.googleapis.com", Bucket: "reports"}, "https://storage.googleapis.com/reports/recordings/r1/c1.mp3"},
		{"placeholder", ObjectURLBuilder{AccessBaseURL: "https://cdn.example.com/{objectKey}", Bucket: "reports"}, "https://cdn.example.com/recordings/r1/c1.mp3"},
		{"query placeholder", ObjectURLBuilder{AccessBaseURL: "https://files.example.com/get?key={objectKey}"}, "https://files.example.com/get?key=recordings%2Fr1%2Fc1.mp3"},
		{"trailing query", ObjectURLBuilder{AccessBaseURL: "https://files.example.com/get?key="}, "https://files.example.com/get?key=recordings%2Fr1%2Fc1.mp3"},
		{"plain base", ObjectURLBuilder{AccessBaseURL: "https://cdn.example.com/"}, "https://cdn.example.com/recordings/r1/c1.mp3"},
		{"bucket only", ObjectURLBuilder{Bucket: "reports"}, "gs://reports/recordings/r1/c1.mp3"},
		{"nothing", ObjectURLBuilder{}, "recordings/r1/c1.mp3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.builder.Build("recordings/r1/c1.mp3")
			if got != tc.want {
				t.Fatalf("Build = %q, want %q", got, tc.want)
			}
			if key := tc.builder.ObjectKey(got); key != "recordings/r1/c1.mp3" && tc.name != "nothing" {
				t.Fatalf("ObjectKey(%q) = %q", got, key)
			}
		})
	}
}
