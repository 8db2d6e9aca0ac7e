package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Server", func() {
	var (
		registry *Registry
		server   *Server
	)

	post := func(body string) (int, Response) {
		req := httptest.NewRequest(http.MethodPost, "/api/send", strings.NewReader(body))
		rec := httptest.NewRecorder()

		server.Handler().ServeHTTP(rec, req)

		var resp Response
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())

		return rec.Code, resp
	}

	BeforeEach(func() {
		registry = NewRegistry()
		server = NewServer(registry, ServerConfig{})
	})

	It("should answer 503 without handlers", func() {
		code, resp := post("hello")

		Expect(code).To(Equal(http.StatusServiceUnavailable))
		Expect(resp.Status).To(Equal("error"))
	})

	It("should return the reply of a bidirectional handler", func() {
		registry.Register("web", func(_ context.Context, p string) (string, error) {
			return "echo " + p, nil
		}, true)

		code, resp := post("hello")

		Expect(code).To(Equal(http.StatusOK))
		Expect(resp).To(Equal(Response{Status: "success", Response: "echo hello"}))
	})

	It("should leave out an empty reply", func() {
		registry.Register("web", func(context.Context, string) (string, error) {
			return "", nil
		}, true)

		req := httptest.NewRequest(http.MethodPost, "/api/send", strings.NewReader("x"))
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(MatchJSON(`{"status":"success"}`))
	})

	It("should acknowledge unidirectional handlers without a reply", func() {
		got := make(chan string, 1)
		registry.Register("web", func(_ context.Context, p string) (string, error) {
			got <- p
			return "ignored", nil
		}, false)

		code, resp := post(`{"message":"hi"}`)

		Expect(code).To(Equal(http.StatusOK))
		Expect(resp).To(Equal(Response{Status: "received"}))
		Expect(got).To(Receive(Equal(`{"message":"hi"}`)))
	})

	It("should report handler errors in the body", func() {
		registry.Register("web", func(context.Context, string) (string, error) {
			return "", errors.New("no good")
		}, true)

		code, resp := post("x")

		Expect(code).To(Equal(http.StatusOK))
		Expect(resp.Status).To(Equal("error"))
		Expect(resp.Error).To(ContainSubstring("no good"))
	})

	It("should answer preflight requests with cors headers", func() {
		req := httptest.NewRequest(http.MethodOptions, "/api/send", nil)
		req.Header.Set("Origin", "http://localhost:8080")
		rec := httptest.NewRecorder()

		server.Handler().ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusNoContent))
		Expect(rec.Header().Get("Access-Control-Allow-Origin")).
			To(Equal("http://localhost:8080"))
	})

	It("should refuse origins that are not allowed", func() {
		server = NewServer(registry, ServerConfig{CORSOrigins: []string{"http://ok"}})
		req := httptest.NewRequest(http.MethodOptions, "/api/send", nil)
		req.Header.Set("Origin", "http://evil")
		rec := httptest.NewRecorder()

		server.Handler().ServeHTTP(rec, req)

		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(BeEmpty())
	})

	It("should limit the request rate", func() {
		server = NewServer(registry, ServerConfig{RateLimit: 0.001, Burst: 1})
		registry.Register("web", func(_ context.Context, p string) (string, error) {
			return p, nil
		}, true)

		code, _ := post("1")
		Expect(code).To(Equal(http.StatusOK))

		code, resp := post("2")
		Expect(code).To(Equal(http.StatusTooManyRequests))
		Expect(resp.Error).To(Equal("rate limit exceeded"))
	})

	It("should serve over tcp once started", func() {
		registry.Register("web", func(_ context.Context, p string) (string, error) {
			return p, nil
		}, true)
		server = NewServer(registry, ServerConfig{Port: 0})
		Expect(server.Start()).To(Succeed())
		defer server.Stop(context.Background())

		resp, err := http.Post(
			fmt.Sprintf("http://%s/api/send", server.Addr()),
			"text/plain", strings.NewReader("over tcp"))
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(body).To(MatchJSON(`{"status":"success","response":"over tcp"}`))

		Expect(server.Start()).NotTo(Succeed())
	})
})
