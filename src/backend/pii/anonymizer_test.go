package pii

import (
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestAnonymizer(t *testing.T) *Anonymizer {
	t.Helper()
	return NewAnonymizer(defaultClassifier(t), zerolog.Nop())
}

func personsFor(t *testing.T, text string, names ...string) []CandidateEntity {
	t.Helper()
	var candidates []CandidateEntity
	for _, name := range names {
		s := spanOf(t, text, name)
		candidates = append(candidates, CandidateEntity{TextSpan: s, Category: CategoryPersonName})
	}
	return candidates
}

func TestAnonymize_ContextRoles(t *testing.T) {
	a := newTestAnonymizer(t)
	text := "The patient's mother Emily Jones accompanied the patient John Doe."

	result := a.Anonymize(text, personsFor(t, text, "Emily Jones", "John Doe"))

	want := "The patient's mother [MOTHER_NAME] accompanied the patient [PATIENT_NAME]."
	if result.Text != want {
		t.Errorf("Anonymize() = %q, want %q", result.Text, want)
	}
	if result.Names != 2 || result.Roles["[MOTHER_NAME]"] != 1 || result.Roles["[PATIENT_NAME]"] != 1 {
		t.Errorf("Unexpected counters: names=%d roles=%v", result.Names, result.Roles)
	}
}

func TestAnonymize_Fallback(t *testing.T) {
	a := newTestAnonymizer(t)
	text := "Anna Berg called about the results."

	result := a.Anonymize(text, personsFor(t, text, "Anna Berg"))

	if result.Text != "[OTHER_NAME] called about the results." {
		t.Errorf("Unexpected result %q", result.Text)
	}
}

func TestAnonymize_FirstSeenWins(t *testing.T) {
	a := newTestAnonymizer(t)
	text := "Dr. John Smith examined Anna. Later the patient John Smith left."
	second := strings.LastIndex(text, "John Smith")
	secondSpan := TextSpan{Start: second, End: second + len("John Smith"), Text: "John Smith"}

	// on its own the second mention reads as a patient
	if got := a.Classifier().Classify(secondSpan, text); got != "[PATIENT_NAME]" {
		t.Fatalf("Expected second mention to classify as patient, got %q", got)
	}

	candidates := []CandidateEntity{
		{TextSpan: secondSpan, Category: CategoryPersonName},
		personsFor(t, text, "John Smith")[0],
	}
	result := a.Anonymize(text, candidates)

	want := "Dr. [DOCTOR_NAME] examined Anna. Later the patient [DOCTOR_NAME] left."
	if result.Text != want {
		t.Errorf("Anonymize() = %q, want %q", result.Text, want)
	}
	if result.Names != 1 {
		t.Errorf("Expected 1 distinct name, got %d", result.Names)
	}
}

func TestAnonymize_EveryOccurrenceReplaced(t *testing.T) {
	a := newTestAnonymizer(t)
	text := "Nurse Kim Lee arrived. kim  lee left. KIM-LEE returned."

	result := a.Anonymize(text, personsFor(t, text, "Kim Lee"))

	want := "Nurse [NURSE_NAME] arrived. [NURSE_NAME] left. [NURSE_NAME] returned."
	if result.Text != want {
		t.Errorf("Anonymize() = %q, want %q", result.Text, want)
	}
}

func TestAnonymize_TextOutsideNamesUnchanged(t *testing.T) {
	a := newTestAnonymizer(t)
	text := "Ward 3 — Dr. Jane Roe, ext. 42; café «ok»."

	result := a.Anonymize(text, personsFor(t, text, "Jane Roe"))

	i := strings.Index(text, "Jane Roe")
	prefix, suffix := text[:i], text[i+len("Jane Roe"):]
	if !strings.HasPrefix(result.Text, prefix) || !strings.HasSuffix(result.Text, suffix) {
		t.Errorf("Surrounding text was altered: %q", result.Text)
	}
	if result.Text != prefix+"[DOCTOR_NAME]"+suffix {
		t.Errorf("Unexpected result %q", result.Text)
	}
}

func TestAnonymize_OverlappingCandidates(t *testing.T) {
	a := newTestAnonymizer(t)
	text := "Signed: Dr. John Smith"

	result := a.Anonymize(text, personsFor(t, text, "John Smith", "Dr. John Smith"))

	if result.Text != "Signed: [OTHER_NAME]" || result.Names != 1 {
		t.Errorf("Expected the longer span to win, got %q (names=%d)", result.Text, result.Names)
	}
}

func TestAnonymize_Boundaries(t *testing.T) {
	a := newTestAnonymizer(t)

	for _, text := range []string{"", "   \n\t"} {
		result := a.Anonymize(text, []CandidateEntity{person(0, 1, "")})
		if result.Text != text || len(result.Rejected) != 0 {
			t.Errorf("Blank input %q should be returned unchanged, got %+v", text, result)
		}
	}

	text := "No names in here."
	if result := a.Anonymize(text, nil); result.Text != text || result.Names != 0 {
		t.Errorf("Zero entities should return input unchanged, got %+v", result)
	}
}

func TestAnonymize_InvalidSpansAreSkipped(t *testing.T) {
	a := newTestAnonymizer(t)
	text := "The patient Anna Berg is stable."
	candidates := append(personsFor(t, text, "Anna Berg"),
		person(20, 99, ""),
		person(4, 11, "doctor"),
		CandidateEntity{TextSpan: TextSpan{Start: 0, End: 3}, Category: "location"},
	)

	result := a.Anonymize(text, candidates)

	if result.Text != "The patient [PATIENT_NAME] is stable." {
		t.Errorf("Valid span was not anonymized: %q", result.Text)
	}
	if len(result.Rejected) != 2 {
		t.Fatalf("Expected 2 rejected spans, got %+v", result.Rejected)
	}
	for _, r := range result.Rejected {
		if !errors.Is(r, ErrInvalidSpan) {
			t.Errorf("Rejected span %v does not wrap ErrInvalidSpan", r)
		}
	}
}

func TestAnonymize_Idempotent(t *testing.T) {
	a := newTestAnonymizer(t)
	text := "The patient's mother Emily Jones accompanied the patient John Doe."
	first := a.Anonymize(text, personsFor(t, text, "Emily Jones", "John Doe")).Text

	if again := a.Anonymize(first, nil).Text; again != first {
		t.Errorf("Re-anonymizing without entities changed %q to %q", first, again)
	}

	// a recognizer flagging placeholder fragments is ignored
	candidates := personsFor(t, first, "[MOTHER_NAME]", "PATIENT_NAME")
	result := a.Anonymize(first, candidates)
	if result.Text != first || result.Names != 0 {
		t.Errorf("Placeholders were re-anonymized: %q", result.Text)
	}
}
