package auth

import (
	"context"
	"fmt"
	"strings"
)

// Service 根据预共享令牌表对请求做认证。静态令牌适合工作室内网部署，
// 令牌通常由流水线管理员在配置文件里分发。
type Service struct {
	mode   Mode
	tokens map[string]*Subject
}

// NewService 校验配置并构造认证服务。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}

	switch mode {
	case ModeDisabled:
		return &Service{mode: ModeDisabled}, nil
	case ModeStatic:
		if len(cfg.Tokens) == 0 {
			return nil, fmt.Errorf("static 模式下至少需要配置一个令牌")
		}
		tokens := make(map[string]*Subject, len(cfg.Tokens))
		for i, tc := range cfg.Tokens {
			token := strings.TrimSpace(tc.Token)
			if token == "" {
				return nil, fmt.Errorf("第 %d 个令牌为空", i+1)
			}
			if _, exists := tokens[token]; exists {
				return nil, fmt.Errorf("令牌 %q 重复定义", tc.Name)
			}
			subject := &Subject{
				Name:        tc.Name,
				Permissions: append([]string(nil), tc.Permissions...),
				Disabled:    tc.Disabled,
			}
			if subject.Name == "" {
				subject.Name = fmt.Sprintf("token-%d", i+1)
			}
			subject.normalise()
			tokens[token] = subject
		}
		return &Service{mode: ModeStatic, tokens: tokens}, nil
	default:
		return nil, fmt.Errorf("不支持的认证模式: %s", cfg.Mode)
	}
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// Enabled 报告是否需要对请求做认证。
func (s *Service) Enabled() bool {
	return s != nil && s.mode != ModeDisabled
}

// AuthenticateRequest 解析 Authorization 头并返回对应的主体。
func (s *Service) AuthenticateRequest(ctx context.Context, authorization string) (*Subject, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	_ = ctx

	token, err := bearerToken(authorization)
	if err != nil {
		return nil, err
	}
	subject, ok := s.tokens[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	if subject.Disabled {
		return nil, ErrSubjectRevoked
	}
	return subject.Clone(), nil
}

// bearerToken 从 Authorization 头里提取 Bearer 令牌。
func bearerToken(authorization string) (string, error) {
	value := strings.TrimSpace(authorization)
	if value == "" {
		return "", ErrMissingToken
	}
	const prefix = "bearer "
	if len(value) <= len(prefix) || !strings.EqualFold(value[:len(prefix)], prefix) {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(value[len(prefix):])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// subjectKey 是上下文中存放认证主体的键类型。
type subjectKey struct{}

// WithSubject 把通过令牌认证的主体写入请求上下文，供处理器和
// 审计日志读取提交者身份。
func WithSubject(ctx context.Context, subject *Subject) context.Context {
	if subject == nil {
		return ctx
	}
	subject.normalise()
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFromContext 取出请求上下文中的认证主体。认证被禁用或
// 中间件未挂载时返回 nil。
func SubjectFromContext(ctx context.Context) *Subject {
	if ctx == nil {
		return nil
	}
	if subject, ok := ctx.Value(subjectKey{}).(*Subject); ok {
		subject.normalise()
		return subject
	}
	return nil
}
