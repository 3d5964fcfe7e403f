package fixer_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rancher/autofix/internal/branch"
	"github.com/rancher/autofix/internal/fixer"
)

var _ = Describe("Guard", func() {
	var (
		ctx   context.Context
		guard *fixer.Guard
	)

	BeforeEach(func() {
		ctx = context.Background()
		guard = fixer.NewGuard(branch.Automation{}, nil)
	})

	DescribeTable("ResolveDefault",
		func(remoteDefault string, branches []string, expected branch.Name) {
			ws := newFakeWorkspace("", branches...)
			ws.remoteDefault = remoteDefault

			got, err := guard.ResolveDefault(ctx, ws)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(expected))
		},
		Entry("prefers the remote default branch", "trunk", []string{"main", "trunk"}, branch.Name("trunk")),
		Entry("ignores a remote default missing locally", "trunk", []string{"develop", "master"}, branch.Name("master")),
		Entry("ignores a remote default pointing at the automation branch", "auto-fix-branch", []string{"auto-fix-branch", "develop"}, branch.Name("develop")),
		Entry("walks the candidate list in order", "", []string{"dev", "develop"}, branch.Name("develop")),
		Entry("falls back to the first local branch", "", []string{"zeta", "auto-fix-branch", "feature"}, branch.Name("feature")),
		Entry("uses the literal fallback when only the automation branch exists", "", []string{"auto-fix-branch"}, branch.Name("main")),
		Entry("uses the literal fallback without branches", "", nil, branch.Name("main")),
	)

	It("never resolves to the automation branch", func() {
		pool := []string{"main", "master", "develop", "dev", "feature", "auto-fix-branch"}
		remotes := []string{"", "main", "auto-fix-branch", "feature", "missing"}

		for mask := 0; mask < 1<<len(pool); mask++ {
			var branches []string
			for i, name := range pool {
				if mask&(1<<i) != 0 {
					branches = append(branches, name)
				}
			}
			for _, remote := range remotes {
				ws := newFakeWorkspace("", branches...)
				ws.remoteDefault = remote

				got, err := guard.ResolveDefault(ctx, ws)
				Expect(err).NotTo(HaveOccurred())
				Expect(got).NotTo(Equal(branch.DefaultAutomation), "branches=%v remote=%q", branches, remote)
				Expect(got.IsZero()).To(BeFalse())
			}
		}
	})

	It("falls back to master when the automation branch is named main", func() {
		automation, err := branch.NewAutomation("main")
		Expect(err).NotTo(HaveOccurred())
		guard = fixer.NewGuard(automation, nil)

		ws := newFakeWorkspace("main", "main")
		ws.remoteDefault = "main"

		got, err := guard.ResolveDefault(ctx, ws)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(branch.Name("master")))

		captured, err := guard.Capture(ctx, ws)
		Expect(err).NotTo(HaveOccurred())
		Expect(captured).To(Equal(branch.Name("master")))
	})

	Describe("Capture", func() {
		It("returns the checked-out branch", func() {
			ws := newFakeWorkspace("feature", "feature", "main")
			Expect(guard.Capture(ctx, ws)).To(Equal(branch.Name("feature")))
		})

		It("resolves the default branch when HEAD is detached", func() {
			ws := newFakeWorkspace("", "main", "auto-fix-branch").detach()
			Expect(guard.Capture(ctx, ws)).To(Equal(branch.Name("main")))
		})

		It("resolves the default branch when resuming on the automation branch", func() {
			ws := newFakeWorkspace("auto-fix-branch", "auto-fix-branch", "develop")
			Expect(guard.Capture(ctx, ws)).To(Equal(branch.Name("develop")))
		})

		It("materializes the default branch when HEAD is unborn", func() {
			ws := newFakeWorkspace("missing")
			ws.head.Commit = ""
			ws.remoteDefault = "missing"
			ws.remoteBranches["main"] = "remote-main"

			Expect(guard.Capture(ctx, ws)).To(Equal(branch.Name("main")))
			Expect(ws.branches).To(HaveKeyWithValue("main", "remote-main"))
		})

		It("keeps an existing local branch when HEAD is unborn", func() {
			ws := newFakeWorkspace("missing", "develop")
			ws.head.Commit = ""

			Expect(guard.Capture(ctx, ws)).To(Equal(branch.Name("develop")))
			Expect(ws.Calls()).To(BeEmpty())
		})

		It("surfaces HEAD inspection failures as resolution errors", func() {
			ws := newFakeWorkspace("main", "main")
			ws.headErr = errors.New("corrupt HEAD")

			_, err := guard.Capture(ctx, ws)
			var resolution *fixer.BranchResolutionError
			Expect(errors.As(err, &resolution)).To(BeTrue())
		})
	})

	Describe("Recheck", func() {
		It("picks an existing safety candidate", func() {
			ws := newFakeWorkspace("auto-fix-branch", "auto-fix-branch", "develop", "master")
			Expect(guard.Recheck(ctx, ws)).To(Equal(branch.Name("master")))
			Expect(ws.Calls()).To(BeEmpty())
		})

		It("creates main from the remote tracking branch", func() {
			ws := newFakeWorkspace("auto-fix-branch", "auto-fix-branch")
			ws.remoteBranches["main"] = "remote-main"

			Expect(guard.Recheck(ctx, ws)).To(Equal(branch.Name("main")))
			Expect(ws.branches).To(HaveKeyWithValue("main", "remote-main"))
		})

		It("creates master from the remote when main is absent there", func() {
			ws := newFakeWorkspace("auto-fix-branch", "auto-fix-branch")
			ws.remoteBranches["master"] = "remote-master"

			Expect(guard.Recheck(ctx, ws)).To(Equal(branch.Name("master")))
			Expect(ws.Calls()).To(Equal([]string{"branch master origin/master"}))
		})

		It("creates main at HEAD without remote candidates", func() {
			ws := newFakeWorkspace("auto-fix-branch", "auto-fix-branch")
			Expect(guard.Recheck(ctx, ws)).To(Equal(branch.Name("main")))
			Expect(ws.branches).To(HaveKeyWithValue("main", "base"))
		})

		It("settles for any other local branch when creation fails", func() {
			ws := newFakeWorkspace("auto-fix-branch", "auto-fix-branch", "feature")
			ws.createErr = errors.New("unborn HEAD")
			Expect(guard.Recheck(ctx, ws)).To(Equal(branch.Name("feature")))
		})

		It("fails with ErrNoValidBranch when nothing can be found or created", func() {
			ws := newFakeWorkspace("auto-fix-branch", "auto-fix-branch")
			ws.createErr = errors.New("unborn HEAD")

			_, err := guard.Recheck(ctx, ws)
			Expect(err).To(MatchError(fixer.ErrNoValidBranch))
			var resolution *fixer.BranchResolutionError
			Expect(errors.As(err, &resolution)).To(BeTrue())
		})
	})
})
