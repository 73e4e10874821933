package secrets

// CSRF uses the double-submit pattern: the token is set in a non-HttpOnly
// cookie and must be echoed in a request header on state-changing requests.

// CSRFTokenBytes is the entropy backing a CSRF token.
const CSRFTokenBytes = 32

// NewCSRFToken mints a fresh CSRF token.
func NewCSRFToken() (string, error) {
	return RandomToken(CSRFTokenBytes)
}

// VerifyCSRF compares the header token against the cookie token in constant
// time. Both must be non-empty.
func VerifyCSRF(cookieToken, headerToken string) bool {
	if cookieToken == "" || headerToken == "" {
		return false
	}
	return ConstantTimeEquals(cookieToken, headerToken)
}
