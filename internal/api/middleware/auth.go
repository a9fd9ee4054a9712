// auth.go — JWT middleware для аутентификации submitter-ов Print Queue.
// Извлекает claims из JWT Identity Provider, валидирует подпись через JWKS,
// маппит группы IdP в признак admin и помещает claims в контекст запроса.
// Сама федерация identity (OAuth, членство в сообществе) — внешняя система;
// сервис доверяет подписанному токену.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/VT-CRO/Workcell-Queue/internal/api/errors"
	"github.com/VT-CRO/Workcell-Queue/internal/domain/rbac"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyClaims — извлечённые claims в контексте запроса.
const ContextKeyClaims contextKey = "jwt_claims"

// AuthClaims — обработанные claims из JWT.
// Помещаются в контекст запроса для downstream handlers.
type AuthClaims struct {
	// Identity — sub из JWT, стабильный ключ владения записями очереди.
	Identity string
	// DisplayName — preferred_username из JWT; может меняться,
	// на владение не влияет.
	DisplayName string
	// Email — email из JWT.
	Email string
	// Groups — группы пользователя из IdP.
	Groups []string
	// IsAdmin — признак оператора очереди.
	IsAdmin bool
}

// idpClaims — raw claims из JWT для парсинга.
type idpClaims struct {
	jwt.RegisteredClaims
	// PreferredUsername — имя пользователя.
	PreferredUsername string `json:"preferred_username"`
	// Email — электронная почта.
	Email string `json:"email"`
	// RealmAccess — вложенная структура для realm_access.roles.
	RealmAccess *realmAccess `json:"realm_access,omitempty"`
	// Groups — группы пользователя.
	Groups []string `json:"groups,omitempty"`
}

// realmAccess — вложенная структура realm_access в JWT.
type realmAccess struct {
	Roles []string `json:"roles"`
}

// JWTAuth — middleware для JWT-аутентификации через JWKS.
type JWTAuth struct {
	jwks        keyfunc.Keyfunc
	logger      *slog.Logger
	adminGroups []string
	issuer      string
	jwtLeeway   time.Duration
}

// JWTAuthOptions — параметры создания JWT middleware.
type JWTAuthOptions struct {
	// JWKSURL — URL к JWKS endpoint Identity Provider.
	JWKSURL string
	// CACertPath — опциональный путь к CA-сертификату для TLS.
	CACertPath string
	// Issuer — ожидаемый issuer JWT (пустая строка — не проверять).
	Issuer string
	// AdminGroups — группы, дающие роль admin.
	AdminGroups []string
	// ClientTimeout — таймаут HTTP-клиента JWKS.
	ClientTimeout time.Duration
	// RefreshInterval — интервал обновления JWKS-ключей.
	RefreshInterval time.Duration
	// Leeway — допустимое отклонение времени при проверке JWT.
	Leeway time.Duration
}

// NewJWTAuth создаёт JWT middleware с JWKS Identity Provider.
func NewJWTAuth(opts JWTAuthOptions, logger *slog.Logger) (*JWTAuth, error) {
	// HTTP-клиент для JWKS (с кастомным CA или стандартный)
	httpClient := http.DefaultClient
	if opts.CACertPath != "" {
		var err error
		httpClient, err = httpClientWithCA(opts.CACertPath, opts.ClientTimeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", opts.CACertPath, err)
		}
		logger.Info("CA-сертификат для JWKS добавлен в пул доверия",
			slog.String("ca_cert", opts.CACertPath),
		)
	}

	// JWKS Storage с фоновым обновлением.
	// NoErrorReturnFirstHTTPReq — стартуем даже если IdP ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(opts.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           opts.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", opts.JWKSURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return &JWTAuth{
		jwks:        k,
		logger:      logger.With(slog.String("component", "jwt_auth")),
		adminGroups: opts.AdminGroups,
		issuer:      opts.Issuer,
		jwtLeeway:   opts.Leeway,
	}, nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, issuer string, adminGroups []string, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:        kf,
		logger:      logger.With(slog.String("component", "jwt_auth")),
		adminGroups: adminGroups,
		issuer:      issuer,
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Извлекает Bearer token, валидирует подпись (RS256), извлекает claims
// и помещает их в контекст.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Извлекаем Bearer token
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			tokenString := parts[1]
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			// Парсинг и валидация JWT через JWKS
			rawClaims := &idpClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.jwtLeeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(tokenString, rawClaims, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			if !token.Valid {
				apierrors.Unauthorized(w, "Невалидный токен")
				return
			}

			// Извлекаем sub
			subject, err := rawClaims.GetSubject()
			if err != nil || subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			authClaims := j.buildAuthClaims(rawClaims)

			ctx := context.WithValue(r.Context(), ContextKeyClaims, authClaims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// buildAuthClaims формирует AuthClaims из raw claims.
// Признак admin: группа из adminGroups ИЛИ роль admin в realm_access.
func (j *JWTAuth) buildAuthClaims(raw *idpClaims) *AuthClaims {
	claims := &AuthClaims{
		Identity:    raw.Subject,
		DisplayName: raw.PreferredUsername,
		Email:       raw.Email,
		Groups:      raw.Groups,
	}

	if claims.DisplayName == "" {
		claims.DisplayName = raw.Subject
	}

	claims.IsAdmin = rbac.IsAdmin(claims.Groups, j.adminGroups)
	if !claims.IsAdmin && raw.RealmAccess != nil {
		claims.IsAdmin = rbac.HasAdminRole(raw.RealmAccess.Roles)
	}

	return claims
}

// ClaimsFromContext возвращает AuthClaims из контекста запроса.
// Возвращает nil, если запрос не прошёл через JWT middleware.
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}

// httpClientWithCA создаёт HTTP-клиент с кастомным CA-сертификатом.
func httpClientWithCA(caCertPath string, timeout time.Duration) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs: caCertPool,
			},
		},
	}, nil
}
