package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultRendersCode(t *testing.T) {
	cat := Default()
	subject, body, err := cat.Render("sms", Data{Code: 424242})
	if err != nil {
		t.Fatal(err)
	}
	if subject != "" {
		t.Fatalf("sms subject = %q, want empty", subject)
	}
	if want := "Your Anastasis recovery code is 424242"; body != want {
		t.Fatalf("body = %q, want %q", body, want)
	}
}

func TestRenderUnknownMethodFallsBack(t *testing.T) {
	cat := Default()
	_, body, err := cat.Render("carrier-pigeon", Data{Code: 7})
	if err != nil {
		t.Fatal(err)
	}
	if want := "Your recovery code is 7"; body != want {
		t.Fatalf("body = %q, want %q", body, want)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	contents := "email:\n  subject: \"Recovery code for {{.Address}}\"\n  body: \"Code: {{.Code}}\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cat, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	subject, body, err := cat.Render("email", Data{Code: 9, Address: "a@b.example"})
	if err != nil {
		t.Fatal(err)
	}
	if want := "Recovery code for a@b.example"; subject != want {
		t.Fatalf("subject = %q, want %q", subject, want)
	}
	if want := "Code: 9"; body != want {
		t.Fatalf("body = %q, want %q", body, want)
	}
}
