package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"io"
	"io/ioutil"
	"kbmigrate/logger"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

//ManageOptions is the capability every migration operation requires.
const ManageOptions = "manage_options"

const (
	UserTypeUser    = "user"
	UserTypeService = "service"

	cachePrefix = "AUTH:"
)

var CacheTTL = 5 * time.Minute

type AuthResponse struct {
	Status string `json:"status"`
	User   User   `json:"data"`
}

type User struct {
	Id           int      `json:"id"`
	Login        string   `json:"login"`
	Status       string   `json:"status"`
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities"`
	Authorized   bool     `json:"authorized"`
}

//Can reports whether the user holds capability. Services hold every capability.
func (u *User) Can(capability string) bool {
	if u == nil || !u.Authorized {
		return false
	}
	if u.Type == UserTypeService {
		return true
	}
	for _, c := range u.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

func NewError(text string) error {
	return &AuthError{text}
}

type AuthError struct {
	s string
}

func (this *AuthError) Error() string {
	return this.s
}

func (this *AuthError) Serialize() map[string]string {
	return map[string]string{
		"code": "401",
		"msg":  this.s,
	}
}

type Authenticator interface {
	Authenticate(*http.Request) (*User, error)
}

//GetAuthenticator picks the authenticator by type: "TOKEN" verifies tokens against
//the auth service, anything else lets every request through.
func GetAuthenticator(authType string, serviceUrl string, cacheType string, redisUrl string) Authenticator {
	switch authType {
	case "TOKEN":
		if cacheType == "REDIS" && redisUrl != "" {
			options, err := redis.ParseURL(redisUrl)
			if err != nil {
				logger.Error("Wrong REDIS_URL, auth cache is disabled: %s", err.Error())
				return &TokenAuthenticator{AuthUrl: serviceUrl}
			}
			return &TokenAuthenticator{AuthUrl: serviceUrl, cache: redis.NewClient(options)}
		}
		return &TokenAuthenticator{AuthUrl: serviceUrl}
	default:
		return &EmptyAuthenticator{}
	}
}

//EmptyAuthenticator authorizes every request as a local administrator.
type EmptyAuthenticator struct{}

func (eauth *EmptyAuthenticator) Authenticate(req *http.Request) (*User, error) {
	return &User{Login: "local", Type: UserTypeUser, Capabilities: []string{ManageOptions}, Authorized: true}, nil
}

type TokenAuthenticator struct {
	AuthUrl string
	cache   *redis.Client
}

func NewTokenAuthenticator(authUrl string, cache *redis.Client) *TokenAuthenticator {
	return &TokenAuthenticator{AuthUrl: authUrl, cache: cache}
}

func GetServiceToken() (string, error) {
	secret := os.Getenv("SERVICE_AUTH_SECRET")
	domain := os.Getenv("SERVICE_DOMAIN")

	if secret != "" && domain != "" {
		return signDomain(domain, secret), nil
	}

	return "", errors.New("SERVICE_AUTH_SECRET or SERVICE_DOMAIN not found")
}

//CheckServiceToken verifies a "<domain>:<signature>" token signed with the shared secret.
func CheckServiceToken(token string) bool {
	secret := os.Getenv("SERVICE_AUTH_SECRET")
	parts := strings.SplitN(token, ":", 2)
	if secret == "" || len(parts) != 2 {
		return false
	}
	return hmac.Equal([]byte(signDomain(parts[0], secret)), []byte(token))
}

func signDomain(domain string, secret string) string {
	key := sha1.New()
	key.Write([]byte("trood.signer" + secret))

	signature := hmac.New(sha1.New, key.Sum(nil))
	signature.Write([]byte(domain))

	return domain + ":" + base64.RawURLEncoding.EncodeToString(signature.Sum(nil))
}

func (tauth *TokenAuthenticator) Authenticate(req *http.Request) (*User, error) {
	authHeader := req.Header.Get("Authorization")
	tokenParts := strings.SplitN(authHeader, " ", 2)
	if len(tokenParts) != 2 || tokenParts[1] == "" {
		return nil, NewError("Authorization failed")
	}

	if tokenParts[0] == "Service" && CheckServiceToken(tokenParts[1]) {
		return &User{Login: strings.SplitN(tokenParts[1], ":", 2)[0], Type: UserTypeService, Authorized: true}, nil
	}

	if user, err := tauth.getUserFromCache(req.Context(), tokenParts[1]); err == nil {
		return user, nil
	}

	user, err := tauth.getUserFromAuthService(tokenParts[0], tokenParts[1])
	if err != nil {
		return nil, NewError("Authorization failed")
	}
	tauth.putUserToCache(req.Context(), tokenParts[1], user)
	return user, nil
}

func (tauth *TokenAuthenticator) getUserFromCache(ctx context.Context, token string) (*User, error) {
	if tauth.cache == nil {
		return nil, NewError("Cache is not enabled")
	}
	data, err := tauth.cache.Get(ctx, cachePrefix+token).Result()
	if err != nil {
		return nil, err
	}
	var user User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return nil, err
	}
	user.Authorized = true
	return &user, nil
}

func (tauth *TokenAuthenticator) putUserToCache(ctx context.Context, token string, user *User) {
	if tauth.cache == nil {
		return
	}
	data, _ := json.Marshal(user)
	if err := tauth.cache.Set(ctx, cachePrefix+token, data, CacheTTL).Err(); err != nil {
		logger.Warn("Can't cache user '%s': %s", user.Login, err.Error())
	}
}

func (tauth *TokenAuthenticator) getUserFromAuthService(tokenType string, token string) (*User, error) {
	kind := UserTypeUser
	if tokenType == "Service" {
		kind = UserTypeService
	}
	body, _ := json.Marshal(map[string]string{"type": kind, "token": token})

	authRequest, _ := http.NewRequest("POST", tauth.AuthUrl+"/api/v1.0/verify-token/", bytes.NewBuffer(body))
	if serviceToken, err := GetServiceToken(); err == nil {
		authRequest.Header.Add("Authorization", "Service "+serviceToken)
	}
	authRequest.Header.Add("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	authResponse, err := client.Do(authRequest)
	if err != nil {
		return nil, err
	}
	defer authResponse.Body.Close()
	if authResponse.StatusCode != http.StatusOK {
		return nil, NewError("Cant achieve user object")
	}
	user, err := tauth.FetchUser(authResponse.Body)
	if err != nil {
		return nil, err
	}
	user.Authorized = true
	return user, nil
}

func (tauth *TokenAuthenticator) FetchUser(buff io.Reader) (*User, error) {
	response := AuthResponse{}
	body, err := ioutil.ReadAll(buff)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, err
	}
	return &response.User, nil
}
