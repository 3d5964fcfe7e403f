package branch_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rancher/autofix/internal/branch"
)

var _ = Describe("Branch", func() {
	Describe("NewAutomation", func() {
		It("defaults to auto-fix-branch", func() {
			auto, err := branch.NewAutomation("  ")
			Expect(err).NotTo(HaveOccurred())
			Expect(auto.Name()).To(Equal(branch.DefaultAutomation))
			Expect(auto.Name().String()).To(Equal("auto-fix-branch"))
		})

		It("normalizes refs prefixes", func() {
			auto, err := branch.NewAutomation("refs/heads/bot/fix/")
			Expect(err).NotTo(HaveOccurred())
			Expect(auto.Name()).To(Equal(branch.Name("bot/fix")))
		})

		It("rejects invalid ref names", func() {
			_, err := branch.NewAutomation("bad name")
			Expect(err).To(HaveOccurred())

			_, err = branch.NewAutomation("fix..it")
			Expect(err).To(HaveOccurred())

			_, err = branch.NewAutomation("fix.lock")
			Expect(err).To(HaveOccurred())
		})

		It("treats the zero value as the default branch", func() {
			var auto branch.Automation
			Expect(auto.IsAutomation("auto-fix-branch")).To(BeTrue())
		})
	})

	Describe("Automation predicates", func() {
		auto, _ := branch.NewAutomation("")

		It("recognizes only the automation branch", func() {
			Expect(auto.IsAutomation("auto-fix-branch")).To(BeTrue())
			Expect(auto.IsAutomation("main")).To(BeFalse())
			Expect(auto.IsAutomation("auto-fix-branch-2")).To(BeFalse())
		})

		It("reports empty and automation names as unsafe", func() {
			Expect(auto.Safe("")).To(BeFalse())
			Expect(auto.Safe("auto-fix-branch")).To(BeFalse())
			Expect(auto.Safe("develop")).To(BeTrue())
		})

		It("filters the automation branch preserving order", func() {
			names := []branch.Name{"feature", "auto-fix-branch", "main", ""}
			Expect(auto.Filter(names)).To(Equal([]branch.Name{"feature", "main"}))
		})
	})

	Describe("Set", func() {
		It("answers membership", func() {
			set := branch.NewSet(branch.FromStrings([]string{"main", " refs/heads/dev ", ""}))
			Expect(set.Has("main")).To(BeTrue())
			Expect(set.Has("dev")).To(BeTrue())
			Expect(set.Has("")).To(BeFalse())
			Expect(set).To(HaveLen(2))
		})
	})

	Describe("Validate", func() {
		It("accepts typical branch names", func() {
			Expect(branch.Validate("release/v1.2")).To(Succeed())
			Expect(branch.Validate("auto-fix-branch")).To(Succeed())
		})

		It("rejects forbidden characters", func() {
			Expect(branch.Validate("")).NotTo(Succeed())
			Expect(branch.Validate("a b")).NotTo(Succeed())
			Expect(branch.Validate("a~b")).NotTo(Succeed())
			Expect(branch.Validate("-main")).NotTo(Succeed())
		})
	})

	Describe("NormalizeBranch", func() {
		It("strips whitespace, slashes and refs/heads", func() {
			Expect(branch.NormalizeBranch(" refs/heads/release/v0.30// ")).To(Equal("release/v0.30"))
			Expect(branch.NormalizeBranch("REFS/HEADS/main")).To(Equal("main"))
			Expect(branch.NormalizeBranch("///")).To(Equal(""))
		})
	})
})
