package main

import "testing"

func TestExportLines(t *testing.T) {
	got := exportLines(map[string]string{
		"https_proxy": "http://127.0.0.1:1234",
		"HELM_HOME":   "/home/me/my project/.helm",
	})
	want := "export HELM_HOME='/home/me/my project/.helm'\nexport https_proxy=http://127.0.0.1:1234\n"
	if got != want {
		t.Fatalf("unexpected export lines:\n%s\nwant:\n%s", got, want)
	}
}
