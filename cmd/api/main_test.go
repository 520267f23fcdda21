package main

import (
	"testing"
)

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func TestRequiredSecretNamesFollowConfiguredCredentials(t *testing.T) {
	env := map[string]string{
		"API_PAYMENTS_CASHFREE_SECRET_KEY": "secret://cashfree/key",
		"API_LOGISTICS_EKART_API_KEY":      "secret://ekart/key",
	}

	required := requiredSecretNames(env)

	if !containsString(required, "Payments.Cashfree.SecretKey") {
		t.Fatalf("expected cashfree secret to be required, got %v", required)
	}
	if !containsString(required, "Logistics.Ekart.APIKey") {
		t.Fatalf("expected ekart key to be required, got %v", required)
	}
	if containsString(required, "Payments.Stripe.APIKey") {
		t.Fatalf("stripe key must not be required without its env var, got %v", required)
	}
}

func TestRequiredSecretNamesSigningSecretOnlyWhenEnforced(t *testing.T) {
	if names := requiredSecretNames(map[string]string{}); containsString(names, "Webhooks.SigningSecret") {
		t.Fatalf("signing secret must not be required when hmac enforcement is off, got %v", names)
	}

	env := map[string]string{"API_SECURITY_HMAC_ENFORCE_WEBHOOKS": "true"}
	if names := requiredSecretNames(env); !containsString(names, "Webhooks.SigningSecret") {
		t.Fatalf("signing secret must be required when hmac enforcement is on, got %v", names)
	}
}

func TestRequiredSecretNamesIncludeHMACKeys(t *testing.T) {
	env := map[string]string{
		"API_SECURITY_HMAC_SECRETS": "payments/cashfree=secret://hmac/cf,logistics=plain",
	}

	required := requiredSecretNames(env)

	if !containsString(required, "Security.HMAC.Secrets[logistics]") {
		t.Fatalf("expected hmac secret fields, got %v", required)
	}
	if !containsString(required, "Security.HMAC.Secrets[payments/cashfree]") {
		t.Fatalf("expected hmac secret fields, got %v", required)
	}
}
