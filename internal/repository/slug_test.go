package repository

import "testing"

func TestSlugify(t *testing.T) {
	cases := []struct {
		title, company, want string
	}{
		{"Nettoyage de bureaux", "Acme SA", "nettoyage-de-bureaux-acme-sa"},
		{"Prestation Traiteur (200 pers.)", "", "prestation-traiteur-200-pers"},
		{"Déménagement à Besançon", "Société Générale", "demenagement-a-besancon-societe-generale"},
		{"   spaces   everywhere   ", "", "spaces-everywhere"},
		{"C++ & Go!!", "", "c-go"},
	}
	for _, tc := range cases {
		if got := Slugify(tc.title, tc.company); got != tc.want {
			t.Errorf("Slugify(%q, %q) = %q, want %q", tc.title, tc.company, got, tc.want)
		}
	}
}

func TestSlugifyTruncates(t *testing.T) {
	got := Slugify("a very long procurement title that keeps going and going", "some company")
	if len(got) > maxSlugLen {
		t.Errorf("slug too long: %d chars (%q)", len(got), got)
	}
	if got == "" {
		t.Error("slug should not be empty")
	}
}

func TestSlugifyDropsUnfoldableRunes(t *testing.T) {
	if got := Slugify("北京 cleaning", ""); got != "cleaning" {
		t.Errorf("expected %q, got %q", "cleaning", got)
	}
}
