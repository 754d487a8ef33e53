package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mrlecko/truth-capsules-sub001/internal/capsule"
	"github.com/mrlecko/truth-capsules-sub001/internal/config"
	"github.com/mrlecko/truth-capsules-sub001/internal/provenance"
)

const testCapsule = `
id: llm.citation_v1
version: "1.0.0"
domain: llm
title: Citation discipline
statement: Cite a source for every factual claim.
assumptions:
  - Sources are available
provenance:
  author: docs-team
  created: "2026-01-10"
  review:
    status: approved
    reviewers: [reviewer]
`

func testTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "capsules", "llm")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "citation.yaml"), []byte(testCapsule), 0644); err != nil {
		t.Fatal(err)
	}
	return root
}

func testSetup(t *testing.T, root string) {
	t.Helper()
	logger = zap.NewNop()
	cfg = config.DefaultConfig()
	cfg.Store.Root = root
}

func TestLintCleanTree(t *testing.T) {
	testSetup(t, testTree(t))

	output := captureOutput(t, func() {
		if err := runLint(&cobra.Command{}, nil); err != nil {
			t.Fatalf("runLint returned error: %v", err)
		}
	})

	if !strings.Contains(output, "0 errors") {
		t.Fatalf("expected clean lint report, got: %s", output)
	}
}

func TestListCapsules(t *testing.T) {
	testSetup(t, testTree(t))

	output := captureOutput(t, func() {
		if err := runList(&cobra.Command{}, []string{"capsules"}); err != nil {
			t.Fatalf("runList returned error: %v", err)
		}
	})

	if !strings.Contains(output, "llm.citation_v1") {
		t.Fatalf("expected capsule listing, got: %s", output)
	}
}

func TestDigestUnknownCapsule(t *testing.T) {
	testSetup(t, testTree(t))

	err := runDigest(&cobra.Command{}, []string{"llm.missing_v1"})
	if err == nil || !strings.Contains(err.Error(), "unknown capsule") {
		t.Fatalf("expected unknown capsule error, got: %v", err)
	}
}

func TestKeygenAndSign(t *testing.T) {
	root := testTree(t)
	testSetup(t, root)

	keyPath := filepath.Join(t.TempDir(), "signing.key")
	keygenKeyID = "test-key"
	if err := runKeygen(&cobra.Command{}, []string{keyPath}); err != nil {
		t.Fatalf("runKeygen returned error: %v", err)
	}

	capsulePath := filepath.Join(root, "capsules", "llm", "citation.yaml")
	signKeyPath = keyPath
	signInPlace = true
	defer func() { signInPlace = false }()
	if err := runSign(&cobra.Command{}, []string{capsulePath}); err != nil {
		t.Fatalf("runSign returned error: %v", err)
	}

	data, err := os.ReadFile(capsulePath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "signature:") {
		t.Fatalf("expected embedded signing block, got: %s", data)
	}

	// Signed tree passes the release gate.
	output := captureOutput(t, func() {
		verifyRequireApproved = true
		defer func() { verifyRequireApproved = false }()
		if err := runVerify(&cobra.Command{}, nil); err != nil {
			t.Fatalf("runVerify returned error: %v", err)
		}
	})
	if !strings.Contains(output, "ok") {
		t.Fatalf("expected clean verification, got: %s", output)
	}
}

func TestVerifyStreamFromStdin(t *testing.T) {
	testSetup(t, testTree(t))

	kp, err := provenance.GenerateKeypair("stream-key")
	if err != nil {
		t.Fatal(err)
	}
	c := &capsule.Capsule{
		ID:        "llm.citation_v1",
		Version:   "1.0.0",
		Domain:    "llm",
		Statement: "Cite a source for every factual claim.",
	}
	block, err := provenance.Sign(c, kp)
	if err != nil {
		t.Fatal(err)
	}
	line, err := json.Marshal(provenance.AttachSignature(c, block))
	if err != nil {
		t.Fatal(err)
	}

	cmd := &cobra.Command{}
	cmd.SetIn(bytes.NewReader(append(line, '\n')))
	verifyStream = "-"
	defer func() { verifyStream = "" }()

	output := captureOutput(t, func() {
		if err := runVerify(cmd, nil); err != nil {
			t.Fatalf("runVerify returned error: %v", err)
		}
	})
	if !strings.Contains(output, "llm.citation_v1") || !strings.Contains(output, "ok") {
		t.Fatalf("expected an ok record from stdin, got: %s", output)
	}
}

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()

	origOut := os.Stdout
	origErr := os.Stderr
	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout = wOut
	os.Stderr = wErr

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, rOut)
		_, _ = io.Copy(&buf, rErr)
		done <- buf.String()
	}()

	fn()

	_ = wOut.Close()
	_ = wErr.Close()
	os.Stdout = origOut
	os.Stderr = origErr
	return <-done
}
