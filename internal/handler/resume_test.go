package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/dukerupert/ltgvault/internal/feature"
)

func TestResumeCreateRespectsFreeCap(t *testing.T) {
	env := newTestEnv(t)
	acct := env.newAccount(t, "a@example.com")

	first := serve(t, env.resume.Create, call{method: "POST", path: "/api/resumes", acct: acct,
		body: map[string]any{"title": "Engineer", "content": map[string]any{"name": "A"}}})
	if first.Code != http.StatusCreated {
		t.Fatalf("first: status = %d, body %s", first.Code, first.Body.String())
	}
	if tmpl := decodeBody(t, first)["template"]; tmpl != defaultTemplate {
		t.Errorf("template = %v, want %q", tmpl, defaultTemplate)
	}

	second := serve(t, env.resume.Create, call{method: "POST", path: "/api/resumes", acct: acct,
		body: map[string]any{"title": "Manager"}})
	if second.Code != http.StatusForbidden {
		t.Fatalf("second: status = %d, want %d", second.Code, http.StatusForbidden)
	}
	body := decodeBody(t, second)
	if body["error"] != "RESOURCE_LIMIT" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestResumePaidCapIsHigher(t *testing.T) {
	env := newTestEnv(t)
	acct := env.newAccount(t, "a@example.com", feature.ResumeBuilder)

	for i := 0; i < 3; i++ {
		rec := serve(t, env.resume.Create, call{method: "POST", path: "/api/resumes", acct: acct,
			body: map[string]any{"title": fmt.Sprintf("Resume %d", i), "template": "executive"}})
		if rec.Code != http.StatusCreated {
			t.Fatalf("create %d: status = %d, body %s", i, rec.Code, rec.Body.String())
		}
	}
}

func TestResumeTemplateGating(t *testing.T) {
	env := newTestEnv(t)
	acct := env.newAccount(t, "a@example.com")

	locked := serve(t, env.resume.Create, call{method: "POST", path: "/api/resumes", acct: acct,
		body: map[string]any{"title": "CV", "template": "executive"}})
	if locked.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", locked.Code, http.StatusForbidden)
	}
	if code := decodeBody(t, locked)["error"]; code != "TEMPLATE_LOCKED" {
		t.Errorf("error = %v", code)
	}

	unknown := serve(t, env.resume.Create, call{method: "POST", path: "/api/resumes", acct: acct,
		body: map[string]any{"title": "CV", "template": "comic-sans"}})
	if unknown.Code != http.StatusBadRequest {
		t.Errorf("unknown template: status = %d, want %d", unknown.Code, http.StatusBadRequest)
	}
}

func TestResumeContentMustBeObject(t *testing.T) {
	env := newTestEnv(t)
	acct := env.newAccount(t, "a@example.com")

	rec := serve(t, env.resume.Create, call{method: "POST", path: "/api/resumes", acct: acct,
		body: map[string]any{"title": "CV", "content": []int{1, 2}}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestResumeOwnership(t *testing.T) {
	env := newTestEnv(t)
	owner := env.newAccount(t, "owner@example.com")
	other := env.newAccount(t, "other@example.com")

	resume, err := env.resumes.Create(owner.ID, "Mine", "classic", json.RawMessage(`{"a":1}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	params := map[string]string{"id": fmt.Sprint(resume.ID)}

	for name, h := range map[string]http.HandlerFunc{"get": env.resume.Get, "delete": env.resume.Delete} {
		rec := serve(t, h, call{method: "GET", path: "/api/resumes/x", acct: other, params: params})
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s as other: status = %d, want %d", name, rec.Code, http.StatusNotFound)
		}
	}

	rec := serve(t, env.resume.Get, call{method: "GET", path: "/api/resumes/x", acct: owner, params: params})
	if rec.Code != http.StatusOK {
		t.Errorf("get as owner: status = %d", rec.Code)
	}
}

func TestResumeUpdateAndDelete(t *testing.T) {
	env := newTestEnv(t)
	acct := env.newAccount(t, "a@example.com")
	resume, _ := env.resumes.Create(acct.ID, "Old", "modern", nil)
	params := map[string]string{"id": fmt.Sprint(resume.ID)}

	rec := serve(t, env.resume.Update, call{method: "PUT", path: "/api/resumes/x", acct: acct, params: params,
		body: map[string]any{"title": "New"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["title"] != "New" || body["template"] != "modern" {
		t.Errorf("updated = %v", body)
	}

	rec = serve(t, env.resume.Delete, call{method: "DELETE", path: "/api/resumes/x", acct: acct, params: params})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d", rec.Code)
	}
	rec = serve(t, env.resume.Get, call{method: "GET", path: "/api/resumes/x", acct: acct, params: params})
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d", rec.Code)
	}
}

func TestResumeKeepsTemplateAfterDowngrade(t *testing.T) {
	env := newTestEnv(t)
	acct := env.newAccount(t, "a@example.com")
	resume, _ := env.resumes.Create(acct.ID, "Exec", "executive", nil)

	rec := serve(t, env.resume.Update, call{method: "PUT", path: "/api/resumes/x", acct: acct,
		params: map[string]string{"id": fmt.Sprint(resume.ID)},
		body:   map[string]any{"title": "Exec v2"}})
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestResumeList(t *testing.T) {
	env := newTestEnv(t)
	acct := env.newAccount(t, "a@example.com")

	rec := serve(t, env.resume.List, call{method: "GET", path: "/api/resumes", acct: acct})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if list := body["resumes"].([]any); len(list) != 0 {
		t.Errorf("resumes = %v", list)
	}
	usage := body["usage"].(map[string]any)
	if usage["limit"] != float64(1) || usage["remaining"] != float64(1) {
		t.Errorf("usage = %v", usage)
	}
}

func TestResumeImproveIsMetered(t *testing.T) {
	env := newTestEnv(t)
	env.completer.answers["resume"] = "- Led a team of five\n- Cut costs by 20%"
	acct := env.newAccount(t, "a@example.com")
	resume, _ := env.resumes.Create(acct.ID, "Manager", "classic", nil)

	rec := serve(t, env.resume.Improve, call{method: "POST", path: "/api/resumes/x/improve", acct: acct,
		params: map[string]string{"id": fmt.Sprint(resume.ID)},
		body:   map[string]any{"bullets": []string{"managed people", "saved money"}}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	bullets := decodeBody(t, rec)["result"].(map[string]any)["bullets"].([]any)
	if len(bullets) != 2 || bullets[0] != "Led a team of five" {
		t.Errorf("bullets = %v", bullets)
	}

	events, err := env.usage.ListRecent(acct.ID, 10)
	if err != nil {
		t.Fatalf("list usage: %v", err)
	}
	if len(events) != 1 || events[0].Feature != feature.ResumeBuilder || events[0].Action != "improve" {
		t.Errorf("events = %+v", events)
	}
}
