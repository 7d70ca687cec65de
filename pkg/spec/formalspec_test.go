package spec

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestSpec(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Formal Spec Suite")
}

const validYAML = `
spec_version: 1
spec_id: spec-001
source:
  github:
    repo: acme/widgets
    issue: 123
    commit_baseline: abc123
objective: Add rate limiting to the public API
acceptance_criteria:
  - Requests over the limit return 429
work_breakdown:
  - id: design
    title: Design the limiter
    owner_role: architect
    definition_of_done:
      - design doc approved
  - id: implement
    title: Implement the limiter
    owner_role: engineer
    definition_of_done:
      - code merged
    depends_on:
      - design
`

var _ = Describe("Parse and Validate", func() {
	It("parses and validates a well-formed spec", func() {
		fs, err := Parse([]byte(validYAML))
		Expect(err).NotTo(HaveOccurred())
		Expect(Validate(fs)).To(Succeed())
		Expect(fs.WorkBreakdown).To(HaveLen(2))
	})

	It("rejects malformed YAML", func() {
		_, err := Parse([]byte("not: [valid"))
		Expect(err).To(HaveOccurred())
	})

	It("rejects a spec missing required fields", func() {
		fs, err := Parse([]byte(`spec_version: 1`))
		Expect(err).NotTo(HaveOccurred())
		Expect(Validate(fs)).To(HaveOccurred())
	})

	It("rejects a work_breakdown with a cycle", func() {
		cyclic := `
spec_version: 1
spec_id: spec-002
source:
  github:
    repo: acme/widgets
    issue: 1
    commit_baseline: abc
objective: test
acceptance_criteria: ["x"]
work_breakdown:
  - id: a
    title: A
    owner_role: eng
    definition_of_done: ["done"]
    depends_on: ["b"]
  - id: b
    title: B
    owner_role: eng
    definition_of_done: ["done"]
    depends_on: ["a"]
`
		fs, err := Parse([]byte(cyclic))
		Expect(err).NotTo(HaveOccurred())
		Expect(Validate(fs)).To(MatchError(ContainSubstring("cycle")))
	})

	It("rejects a work_breakdown item depending on an unknown item", func() {
		dangling := `
spec_version: 1
spec_id: spec-003
source:
  github:
    repo: acme/widgets
    issue: 1
    commit_baseline: abc
objective: test
acceptance_criteria: ["x"]
work_breakdown:
  - id: a
    title: A
    owner_role: eng
    definition_of_done: ["done"]
    depends_on: ["ghost"]
`
		fs, err := Parse([]byte(dangling))
		Expect(err).NotTo(HaveOccurred())
		Expect(Validate(fs)).To(MatchError(ContainSubstring("unknown item")))
	})
})
