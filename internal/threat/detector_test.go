package threat

import (
	"testing"
)

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := NewDetector(Config{})
	if err != nil {
		t.Fatalf("failed to build detector: %v", err)
	}
	return d
}

func TestInspect_CleanPayload(t *testing.T) {
	d := newTestDetector(t)

	result := d.Inspect(Payload{
		Values:    []string{"/api/v1/auth/login", "maria@example.com", "ordinary text", "1 < 2 and 3 > 2"},
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0",
	})

	if result.Suspicious {
		t.Errorf("clean payload flagged suspicious, reasons = %v", result.Reasons)
	}
}

func TestInspect_SQLInjection(t *testing.T) {
	cases := []string{
		"1 UNION SELECT password_hash FROM accounts",
		"x' OR '1'='1",
		"admin'; DROP TABLE accounts",
		"id=1; --",
		"SELECT email FROM accounts WHERE id = 1",
	}

	d := newTestDetector(t)
	for _, value := range cases {
		result := d.Inspect(Payload{Values: []string{value}})
		if !result.Suspicious {
			t.Errorf("value %q should be flagged", value)
			continue
		}
		if !hasReason(result, ReasonSQLInjection) {
			t.Errorf("value %q flagged with %v, want %s", value, result.Reasons, ReasonSQLInjection)
		}
	}
}

func TestInspect_MarkupInjection(t *testing.T) {
	cases := []string{
		"<script>alert(1)</script>",
		"<SCRIPT src=//evil.example></SCRIPT>",
		"<img src=x onerror=alert(1)>",
		"javascript:alert(document.cookie)",
		"<iframe src=\"https://evil.example\"></iframe>",
		"<b>not a script but still markup</b>",
	}

	d := newTestDetector(t)
	for _, value := range cases {
		result := d.Inspect(Payload{Values: []string{value}})
		if !result.Suspicious {
			t.Errorf("value %q should be flagged", value)
			continue
		}
		if !hasReason(result, ReasonMarkup) {
			t.Errorf("value %q flagged with %v, want %s", value, result.Reasons, ReasonMarkup)
		}
	}
}

func TestInspect_PathTraversal(t *testing.T) {
	cases := []string{
		"../../etc/shadow",
		"..\\..\\windows\\system32",
		"%2e%2e%2fconfig",
		"/var/www/../../etc/passwd",
	}

	d := newTestDetector(t)
	for _, value := range cases {
		result := d.Inspect(Payload{Values: []string{value}})
		if !result.Suspicious || !hasReason(result, ReasonPathTraversal) {
			t.Errorf("value %q flagged with %v, want %s", value, result.Reasons, ReasonPathTraversal)
		}
	}
}

func TestInspect_UserAgentDenylist(t *testing.T) {
	d := newTestDetector(t)

	result := d.Inspect(Payload{
		Values:    []string{"harmless"},
		UserAgent: "sqlmap/1.7.2#stable (https://sqlmap.org)",
	})

	if !result.Suspicious || !hasReason(result, ReasonUserAgent) {
		t.Errorf("denylisted user agent flagged with %v, want %s", result.Reasons, ReasonUserAgent)
	}
}

func TestInspect_ReasonsDeduplicated(t *testing.T) {
	d := newTestDetector(t)

	result := d.Inspect(Payload{
		Values: []string{"1 UNION SELECT 1", "2 UNION SELECT 2"},
	})

	count := 0
	for _, reason := range result.Reasons {
		if reason == ReasonSQLInjection {
			count++
		}
	}
	if count != 1 {
		t.Errorf("reason %s reported %d times, want once", ReasonSQLInjection, count)
	}
}

func TestInspect_MultipleReasons(t *testing.T) {
	d := newTestDetector(t)

	result := d.Inspect(Payload{
		Values:    []string{"<script>x</script>", "../../etc/passwd"},
		UserAgent: "nikto/2.5.0",
	})

	if len(result.Reasons) != 3 {
		t.Errorf("expected 3 distinct reasons, got %v", result.Reasons)
	}
}

func TestNewDetector_CustomSignatures(t *testing.T) {
	d, err := NewDetector(Config{
		SQLPatterns:       []string{`(?i)\bxp_cmdshell\b`},
		UserAgentDenylist: []string{"scanner"},
	})
	if err != nil {
		t.Fatalf("failed to build detector: %v", err)
	}

	// Custom list replaces the default
	if d.Inspect(Payload{Values: []string{"1 UNION SELECT 1"}}).Suspicious {
		t.Error("default signature should not apply when a custom list is configured")
	}
	if !d.Inspect(Payload{Values: []string{"EXEC xp_cmdshell 'dir'"}}).Suspicious {
		t.Error("custom signature should match")
	}
}

func TestNewDetector_InvalidPattern(t *testing.T) {
	if _, err := NewDetector(Config{SQLPatterns: []string{"("}}); err == nil {
		t.Error("invalid pattern should be reported")
	}
}

func hasReason(r Result, want string) bool {
	for _, reason := range r.Reasons {
		if reason == want {
			return true
		}
	}
	return false
}
