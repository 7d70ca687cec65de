package webhook

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("IsActionableEvent", func() {
	It("treats issues and pull_request as actionable", func() {
		Expect(IsActionableEvent("issues", nil)).To(BeTrue())
		Expect(IsActionableEvent("pull_request", nil)).To(BeTrue())
	})

	It("treats an unknown event name as not actionable", func() {
		Expect(IsActionableEvent("star", nil)).To(BeFalse())
	})
})

var _ = Describe("ExtractIssueNumber", func() {
	It("prefers the issue number when both issue and pull_request are present", func() {
		payload := []byte(`{"issue":{"number":42},"pull_request":{"number":99}}`)
		n := ExtractIssueNumber(payload)
		Expect(n).NotTo(BeNil())
		Expect(*n).To(Equal(42))
	})

	It("falls back to the pull request number", func() {
		payload := []byte(`{"pull_request":{"number":7}}`)
		n := ExtractIssueNumber(payload)
		Expect(n).NotTo(BeNil())
		Expect(*n).To(Equal(7))
	})

	It("falls back to the project card id", func() {
		payload := []byte(`{"project_card":{"id":501}}`)
		n := ExtractIssueNumber(payload)
		Expect(n).NotTo(BeNil())
		Expect(*n).To(Equal(501))
	})

	It("returns nil when no task reference shape is present", func() {
		payload := []byte(`{"zen":"keep it logically awesome"}`)
		Expect(ExtractIssueNumber(payload)).To(BeNil())
	})
})

var _ = Describe("Map", func() {
	It("builds an envelope from a repository-flavored payload", func() {
		payload := []byte(`{
			"repository": {"full_name": "acme/widgets"},
			"sender": {"login": "octocat", "type": "User"},
			"issue": {"number": 123, "html_url": "https://github.com/acme/widgets/issues/123"}
		}`)

		env := Map("issues", "delivery-1", "event-1", payload)

		Expect(env.SchemaVersion).To(Equal("1.0"))
		Expect(env.EventType).To(Equal("issues"))
		Expect(env.EventID).To(Equal("event-1"))
		Expect(env.Source.System).To(Equal("github"))
		Expect(env.Source.Repo).To(Equal("acme/widgets"))
		Expect(env.Source.DeliveryID).To(Equal("delivery-1"))
		Expect(env.Actor.Login).To(Equal("octocat"))
		Expect(env.TaskRef).NotTo(BeNil())
		Expect(env.TaskRef.Kind).To(Equal("issue"))
		Expect(env.TaskRef.ID).To(Equal(123))
		Expect(env.Payload).To(MatchJSON(payload))
	})

	It("tolerates a payload with no recognizable task reference", func() {
		env := Map("issues", "delivery-2", "event-2", []byte(`{}`))
		Expect(env.TaskRef).To(BeNil())
	})
})
