package event_test

import (
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rancher/autofix/internal/event"
)

var _ = Describe("ParsePushEvent", func() {
	const sample = `{
		"ref": "refs/heads/main",
		"before": "0000000000000000000000000000000000000000",
		"after": "abc123",
		"deleted": false,
		"repository": {
			"name": "widgets",
			"clone_url": "https://github.com/acme/widgets.git",
			"default_branch": "main",
			"owner": {"name": "acme", "login": "acme"}
		}
	}`

	It("parses the ref and repository", func() {
		payload, err := event.ParsePushEvent(strings.NewReader(sample))
		Expect(err).NotTo(HaveOccurred())

		Expect(payload.Ref).To(Equal("refs/heads/main"))
		Expect(payload.Branch()).To(Equal("main"))
		Expect(payload.After).To(Equal("abc123"))
		Expect(payload.Deleted).To(BeFalse())
		Expect(payload.Repository).To(Equal(event.Repository{
			Owner:         "acme",
			Name:          "widgets",
			CloneURL:      "https://github.com/acme/widgets.git",
			DefaultBranch: "main",
		}))
	})

	It("falls back to the owner name when login is absent", func() {
		payload, err := event.ParsePushEvent(strings.NewReader(`{"ref":"refs/tags/v1.0.0","repository":{"name":"widgets","clone_url":"https://github.com/acme/widgets.git","owner":{"name":"acme"}}}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(payload.Repository.Owner).To(Equal("acme"))
		Expect(payload.Branch()).To(BeEmpty())
	})

	It("rejects payloads without a ref or repository", func() {
		_, err := event.ParsePushEvent(strings.NewReader(`{"action":"opened","repository":{"name":"widgets"}}`))
		Expect(err).To(MatchError(event.ErrNotPushEvent))

		_, err = event.ParsePushEvent(strings.NewReader(`{"ref":"refs/heads/main"}`))
		Expect(err).To(MatchError(event.ErrNotPushEvent))
	})

	It("returns an error for malformed JSON", func() {
		_, err := event.ParsePushEvent(strings.NewReader(`{`))
		Expect(err).To(HaveOccurred())
	})

	It("reads the event from disk", func() {
		path := filepath.Join(GinkgoT().TempDir(), "event.json")
		Expect(os.WriteFile(path, []byte(sample), 0o600)).To(Succeed())

		payload, err := event.ParsePushEventFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(payload.Repository.Name).To(Equal("widgets"))

		_, err = event.ParsePushEventFile(filepath.Join(GinkgoT().TempDir(), "missing.json"))
		Expect(err).To(HaveOccurred())
	})
})
