package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"go.uber.org/zap"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeRecorder struct {
	inserted bool
	eventID  string
	err      error
	calls    int
}

func (f *fakeRecorder) RecordEventIfNew(ctx context.Context, params RecordEventParams) (bool, string, error) {
	f.calls++
	return f.inserted, f.eventID, f.err
}

type fakeEnqueuer struct {
	envelopes []Envelope
	err       error
}

func (f *fakeEnqueuer) Enqueue(env Envelope) error {
	if f.err != nil {
		return f.err
	}
	f.envelopes = append(f.envelopes, env)
	return nil
}

func signBody(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

var _ = Describe("Handler.ServeHTTP", func() {
	var (
		secret   []byte
		recorder *fakeRecorder
		enqueuer *fakeEnqueuer
		handler  *Handler
		body     []byte
	)

	BeforeEach(func() {
		secret = []byte("test-secret")
		recorder = &fakeRecorder{inserted: true, eventID: "evt-1"}
		enqueuer = &fakeEnqueuer{}
		handler = NewHandler(secret, recorder, enqueuer, nil, zap.NewNop())
		body = []byte(`{"issue":{"number":123},"repository":{"full_name":"acme/widgets","owner":{"login":"acme"},"name":"widgets"}}`)
	})

	post := func(headers map[string]string, payload []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(payload))
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	It("accepts a first delivery with a valid signature", func() {
		rec := post(map[string]string{
			"x-github-event":      "issues",
			"x-github-delivery":   "D1",
			"x-hub-signature-256": signBody(secret, body),
		}, body)

		Expect(rec.Code).To(Equal(http.StatusAccepted))

		var resp acceptedResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Accepted).To(BeTrue())
		Expect(resp.EventID).To(Equal("evt-1"))
		Expect(enqueuer.envelopes).To(HaveLen(1))
	})

	It("returns 401 when the signature header is missing", func() {
		rec := post(map[string]string{
			"x-github-event":    "issues",
			"x-github-delivery": "D1",
		}, body)

		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		var resp acceptedResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Reason).To(Equal("missing_signature"))
		Expect(recorder.calls).To(Equal(0))
	})

	It("returns 401 on an invalid signature", func() {
		rec := post(map[string]string{
			"x-github-event":      "issues",
			"x-github-delivery":   "D1",
			"x-hub-signature-256": "sha256=" + hex.EncodeToString([]byte("wrongwrongwrongwrongwrongwrong!")),
		}, body)

		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
	})

	It("returns 202 accepted:false for a non-actionable event", func() {
		rec := post(map[string]string{
			"x-github-event":      "star",
			"x-github-delivery":   "D1",
			"x-hub-signature-256": signBody(secret, body),
		}, body)

		Expect(rec.Code).To(Equal(http.StatusAccepted))
		var resp acceptedResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Accepted).To(BeFalse())
		Expect(resp.Reason).To(Equal("event_not_actionable"))
	})

	It("returns 202 accepted:false when no task id can be extracted", func() {
		noRef := []byte(`{"zen":"keep it logically awesome"}`)
		rec := post(map[string]string{
			"x-github-event":      "issues",
			"x-github-delivery":   "D1",
			"x-hub-signature-256": signBody(secret, noRef),
		}, noRef)

		Expect(rec.Code).To(Equal(http.StatusAccepted))
		var resp acceptedResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Reason).To(Equal("missing_issue_number"))
	})

	It("returns 200 duplicate:true for a replayed delivery", func() {
		recorder.inserted = false
		rec := post(map[string]string{
			"x-github-event":      "issues",
			"x-github-delivery":   "D1",
			"x-hub-signature-256": signBody(secret, body),
		}, body)

		Expect(rec.Code).To(Equal(http.StatusOK))
		var resp acceptedResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Duplicate).To(BeTrue())
		Expect(enqueuer.envelopes).To(BeEmpty())
	})

	It("returns 400 when required headers are missing", func() {
		rec := post(map[string]string{}, body)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("returns 400 on invalid JSON even with a valid signature", func() {
		bad := []byte(`not json`)
		rec := post(map[string]string{
			"x-github-event":      "issues",
			"x-github-delivery":   "D1",
			"x-hub-signature-256": signBody(secret, bad),
		}, bad)

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})
})
