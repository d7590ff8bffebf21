package cassette

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestCookieMatchesDomain(t *testing.T) {
	dotDomain := strPtr(".example.com")
	exact := strPtr("api.example.com")

	assert.True(t, Cookie{}.MatchesDomain("anything.example.com"), "nil Domain matches any host")
	assert.True(t, Cookie{Domain: dotDomain}.MatchesDomain("sub.example.com"))
	assert.True(t, Cookie{Domain: dotDomain}.MatchesDomain("example.com"))
	assert.False(t, Cookie{Domain: dotDomain}.MatchesDomain("notexample.com"))
	assert.True(t, Cookie{Domain: exact}.MatchesDomain("api.example.com"))
	assert.False(t, Cookie{Domain: exact}.MatchesDomain("other.example.com"))
}

func TestCookieMatchesPath(t *testing.T) {
	assert.True(t, Cookie{}.MatchesPath("/anything"), "default path is /")
	assert.True(t, Cookie{Path: strPtr("/app")}.MatchesPath("/app"))
	assert.True(t, Cookie{Path: strPtr("/app")}.MatchesPath("/app/sub"))
	assert.True(t, Cookie{Path: strPtr("/app/")}.MatchesPath("/app/sub"))
	assert.False(t, Cookie{Path: strPtr("/app")}.MatchesPath("/application"))
	assert.False(t, Cookie{Path: strPtr("/app")}.MatchesPath("/other"))
}

func TestCookieExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.True(t, Cookie{Expires: &past}.Expired(now))
	assert.False(t, Cookie{Expires: &future}.Expired(now))

	zeroMaxAge := int64(0)
	assert.True(t, Cookie{CreatedAt: now, MaxAge: &zeroMaxAge}.Expired(now))

	negMaxAge := int64(-1)
	assert.True(t, Cookie{CreatedAt: now, MaxAge: &negMaxAge}.Expired(now))

	posMaxAge := int64(60)
	assert.False(t, Cookie{CreatedAt: now, MaxAge: &posMaxAge}.Expired(now))

	expiredMaxAge := int64(60)
	assert.True(t, Cookie{CreatedAt: past.Add(-time.Hour), MaxAge: &expiredMaxAge}.Expired(now))
}

func TestCookiesForURLFiltersAndOrders(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	u, err := url.Parse("https://api.example.com/app/widgets")
	require.NoError(t, err)

	expired := Cookie{Name: "old", Value: "v", Expires: &past, CreatedAt: now}
	wrongDomain := Cookie{Name: "wrong-domain", Value: "v", Domain: strPtr("other.example.com"), CreatedAt: now}
	wrongPath := Cookie{Name: "wrong-path", Value: "v", Path: strPtr("/admin"), CreatedAt: now}
	shortPath := Cookie{Name: "short", Value: "v", Path: strPtr("/"), CreatedAt: now}
	longPath := Cookie{Name: "long", Value: "v", Path: strPtr("/app"), CreatedAt: now.Add(time.Minute)}

	cookies := []Cookie{expired, wrongDomain, wrongPath, shortPath, longPath}
	matched := CookiesForURL(cookies, u, now)

	require.Len(t, matched, 2)
	assert.Equal(t, "long", matched[0].Name, "longer cookie path sorts first")
	assert.Equal(t, "short", matched[1].Name)
}

func TestHeaderValueJoinsNameValuePairs(t *testing.T) {
	cookies := []Cookie{
		{Name: "a", Value: "1"},
		{Name: "b", Value: "2"},
	}
	assert.Equal(t, "a=1; b=2", HeaderValue(cookies))
	assert.Equal(t, "", HeaderValue(nil))
}
