package authcore

import "time"

// SecurityReport is a read-only snapshot of the engine's security posture.
type SecurityReport struct {
	ProductionMode      bool
	SigningAlgorithm    string
	KeyRotationEnabled  bool
	AccessTTL           time.Duration
	RefreshTTL          time.Duration
	ClockSkew           time.Duration
	PasswordAlgorithm   PasswordAlgorithm
	BcryptCost          int
	Argon2              PasswordConfigReport
	PasswordMinLength   int
	PasswordMaxLength   int
	UpgradeOnLogin      bool
	VerificationTTL     time.Duration
	ResetTTL            time.Duration
	LockoutThreshold    int
	LockoutDuration     time.Duration
	UnknownAccountDelay time.Duration
	RefreshRotation     bool
	RevokeChainOnReuse  bool
	AuditEnabled        bool
}

// PasswordConfigReport holds the Argon2id parameters when that hasher is
// selected.
type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	c := e.config

	report := SecurityReport{
		ProductionMode:      c.Security.ProductionMode,
		SigningAlgorithm:    "HS256",
		KeyRotationEnabled:  len(c.JWT.VerifySecrets) > 1,
		AccessTTL:           c.JWT.AccessTTL,
		RefreshTTL:          c.JWT.RefreshTTL,
		ClockSkew:           c.JWT.ClockSkew,
		PasswordAlgorithm:   c.Password.Algorithm,
		PasswordMinLength:   c.Password.MinLength,
		PasswordMaxLength:   c.Password.MaxLength,
		UpgradeOnLogin:      c.Password.UpgradeOnLogin,
		VerificationTTL:     c.EmailVerification.VerificationTTL,
		ResetTTL:            c.PasswordReset.ResetTTL,
		LockoutThreshold:    c.Lockout.MaxFailedAttempts,
		LockoutDuration:     c.Lockout.Duration,
		UnknownAccountDelay: c.Lockout.UnknownAccountDelay,
		RefreshRotation:     true,
		RevokeChainOnReuse:  c.Security.RevokeChainOnReuse,
		AuditEnabled:        e.audit != nil,
	}
	switch c.Password.Algorithm {
	case PasswordArgon2id:
		report.Argon2 = PasswordConfigReport{
			Memory:      c.Password.Memory,
			Time:        c.Password.Time,
			Parallelism: c.Password.Parallelism,
			SaltLength:  c.Password.SaltLength,
			KeyLength:   c.Password.KeyLength,
		}
	default:
		report.BcryptCost = c.Password.BcryptCost
	}
	return report
}
