package models

import (
	"testing"
)

func TestJob_Budget(t *testing.T) {
	tests := []struct {
		name string
		job  Job
		want int
	}{
		{"starter package", Job{PackageSize: PackageStarter}, 50},
		{"growth package", Job{PackageSize: PackageGrowth}, 150},
		{"professional package", Job{PackageSize: PackageProfessional}, 300},
		{"enterprise package", Job{PackageSize: PackageEnterprise}, 500},
		{"case-insensitive package", Job{PackageSize: "Enterprise"}, 500},
		// Explicit limit wins over package
		{"limit wins", Job{PackageSize: PackageEnterprise, DirectoryLimit: 25}, 25},
		{"limit alone", Job{DirectoryLimit: 75}, 75},
		// An unknown named package falls back to starter
		{"unknown package", Job{PackageSize: "ultimate"}, 50},
		// No budget information at all means an empty job
		{"empty job", Job{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.job.Budget(); got != tt.want {
				t.Errorf("Budget() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestJob_Tier(t *testing.T) {
	tests := []struct {
		pkg  PackageSize
		want Tier
	}{
		{PackageStarter, TierStarter},
		{PackageGrowth, TierGrowth},
		{PackageProfessional, TierProfessional},
		{PackageEnterprise, TierEnterprise},
		{"", TierStarter},
	}

	for _, tt := range tests {
		job := Job{PackageSize: tt.pkg}
		if got := job.Tier(); got != tt.want {
			t.Errorf("Tier() for package %q = %v, want %v", tt.pkg, got, tt.want)
		}
	}
}

func TestBusinessProfile_Field(t *testing.T) {
	profile := BusinessProfile{
		BusinessName: "Acme Plumbing",
		Email:        "info@acme.example",
		Phone:        "555-0100",
		Website:      "https://acme.example",
		City:         "Springfield",
		Description:  "Residential plumbing",
		Category:     "home-services",
	}

	tests := []struct {
		key  string
		want string
	}{
		{FieldBusinessName, "Acme Plumbing"},
		{FieldEmail, "info@acme.example"},
		{FieldPhone, "555-0100"},
		{FieldWebsite, "https://acme.example"},
		{FieldCity, "Springfield"},
		{FieldDescription, "Residential plumbing"},
		{FieldCategory, "home-services"},
		{FieldState, ""},
		{"unknown", ""},
	}

	for _, tt := range tests {
		if got := profile.Field(tt.key); got != tt.want {
			t.Errorf("Field(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestBusinessProfile_WithDescription(t *testing.T) {
	profile := BusinessProfile{Description: "original"}

	rewritten := profile.WithDescription("customised")
	if rewritten.Description != "customised" {
		t.Errorf("WithDescription should replace description, got %q", rewritten.Description)
	}
	if profile.Description != "original" {
		t.Error("WithDescription must not mutate the receiver")
	}

	unchanged := profile.WithDescription("")
	if unchanged.Description != "original" {
		t.Error("empty rewrite must keep the original description")
	}
}

func TestJobProgress(t *testing.T) {
	progress := JobProgress{TotalSelected: 4}

	progress.Count(StatusSubmitted)
	progress.Count(StatusSubmitted)
	progress.Count(StatusFailed)
	progress.Count(StatusSkipped)

	if progress.Submitted != 2 || progress.Failed != 1 || progress.Skipped != 1 {
		t.Errorf("tallies = %d/%d/%d, want 2/1/1", progress.Submitted, progress.Failed, progress.Skipped)
	}
	if progress.Realized() != 4 {
		t.Errorf("Realized() = %d, want 4", progress.Realized())
	}
	if progress.Percent() != 1.0 {
		t.Errorf("Percent() = %v, want 1.0", progress.Percent())
	}

	summary := progress.Summary(12.5)
	if summary.TotalDirectories != 4 || summary.SuccessfulSubmissions != 2 ||
		summary.FailedSubmissions != 1 || summary.SkippedSubmissions != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if summary.ProcessingTimeSeconds != 12.5 {
		t.Errorf("ProcessingTimeSeconds = %v, want 12.5", summary.ProcessingTimeSeconds)
	}
}

func TestJobProgress_EmptySelection(t *testing.T) {
	progress := JobProgress{TotalSelected: 0}
	if progress.Percent() != 1.0 {
		t.Errorf("empty selection Percent() = %v, want 1.0", progress.Percent())
	}
}

func TestErrorTail(t *testing.T) {
	tail := NewErrorTail(3)

	tail.Push("one")
	tail.Push("")
	tail.Push("two")
	tail.Push("three")
	tail.Push("four")

	got := tail.Messages()
	want := []string{"two", "three", "four"}
	if len(got) != len(want) {
		t.Fatalf("Messages() returned %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Messages()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
