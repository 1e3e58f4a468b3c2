package auth

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
)

// Tokens is one credential set issued by the identity provider. RefreshToken
// may be empty on a refresh exchange, in which case the previously held one
// remains valid.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresIn    int64 // validity window in seconds
}

// ProviderErrorKind classifies identity-provider rejections so the command
// layer can route them: invalid credentials vs unknown user vs unconfirmed
// account and so on. Unclassified provider failures use KindOther.
type ProviderErrorKind int

const (
	KindOther ProviderErrorKind = iota
	KindNotAuthorized
	KindUserNotFound
	KindUserNotConfirmed
	KindUsernameExists
	KindInvalidPassword
	KindInvalidParameter
	KindCodeMismatch
	KindCodeExpired
)

// ProviderError is a classified identity-provider failure. Message is
// user-facing.
type ProviderError struct {
	Kind    ProviderErrorKind
	Message string
}

func (e *ProviderError) Error() string {
	return e.Message
}

// IdentityProvider is the external identity system consumed by the Gate.
type IdentityProvider interface {
	// InitiateAuth exchanges primary credentials for tokens.
	InitiateAuth(ctx context.Context, email, password string) (*Tokens, error)
	// RefreshTokens exchanges a refresh credential for fresh tokens.
	RefreshTokens(ctx context.Context, refreshToken string) (*Tokens, error)
	// SignUp registers a new account, returning the new subject id and
	// whether the account was auto-confirmed.
	SignUp(ctx context.Context, email, password, phone string) (userID string, confirmed bool, err error)
	// ConfirmSignUp redeems an emailed verification code.
	ConfirmSignUp(ctx context.Context, email, code string) error
}

// CognitoProvider implements IdentityProvider against an AWS Cognito user
// pool using the USER_PASSWORD_AUTH and REFRESH_TOKEN_AUTH flows.
type CognitoProvider struct {
	client   *cognitoidentityprovider.Client
	clientID string
}

func NewCognitoProvider(ctx context.Context, region, clientID string) (*CognitoProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return &CognitoProvider{
		client:   cognitoidentityprovider.NewFromConfig(cfg),
		clientID: clientID,
	}, nil
}

func (p *CognitoProvider) InitiateAuth(ctx context.Context, email, password string) (*Tokens, error) {
	out, err := p.client.InitiateAuth(ctx, &cognitoidentityprovider.InitiateAuthInput{
		AuthFlow: types.AuthFlowTypeUserPasswordAuth,
		ClientId: aws.String(p.clientID),
		AuthParameters: map[string]string{
			"USERNAME": email,
			"PASSWORD": password,
		},
	})
	if err != nil {
		return nil, classifyAuthError(err)
	}
	return tokensFromAuthResult(out.AuthenticationResult)
}

func (p *CognitoProvider) RefreshTokens(ctx context.Context, refreshToken string) (*Tokens, error) {
	out, err := p.client.InitiateAuth(ctx, &cognitoidentityprovider.InitiateAuthInput{
		AuthFlow: types.AuthFlowTypeRefreshTokenAuth,
		ClientId: aws.String(p.clientID),
		AuthParameters: map[string]string{
			"REFRESH_TOKEN": refreshToken,
		},
	})
	if err != nil {
		return nil, classifyAuthError(err)
	}
	return tokensFromAuthResult(out.AuthenticationResult)
}

func (p *CognitoProvider) SignUp(ctx context.Context, email, password, phone string) (string, bool, error) {
	attrs := []types.AttributeType{
		{Name: aws.String("email"), Value: aws.String(email)},
	}
	if phone != "" {
		attrs = append(attrs, types.AttributeType{
			Name: aws.String("phone_number"), Value: aws.String(phone),
		})
	}
	out, err := p.client.SignUp(ctx, &cognitoidentityprovider.SignUpInput{
		ClientId:       aws.String(p.clientID),
		Username:       aws.String(email),
		Password:       aws.String(password),
		UserAttributes: attrs,
	})
	if err != nil {
		return "", false, classifySignUpError(err)
	}
	return aws.ToString(out.UserSub), out.UserConfirmed, nil
}

func (p *CognitoProvider) ConfirmSignUp(ctx context.Context, email, code string) error {
	_, err := p.client.ConfirmSignUp(ctx, &cognitoidentityprovider.ConfirmSignUpInput{
		ClientId:         aws.String(p.clientID),
		Username:         aws.String(email),
		ConfirmationCode: aws.String(code),
	})
	if err != nil {
		return classifyConfirmError(err)
	}
	return nil
}

func tokensFromAuthResult(res *types.AuthenticationResultType) (*Tokens, error) {
	if res == nil {
		return nil, &ProviderError{Kind: KindOther, Message: "No authentication result"}
	}
	return &Tokens{
		AccessToken:  aws.ToString(res.AccessToken),
		RefreshToken: aws.ToString(res.RefreshToken),
		IDToken:      aws.ToString(res.IdToken),
		ExpiresIn:    int64(res.ExpiresIn),
	}, nil
}

func classifyAuthError(err error) error {
	var (
		notAuthorized *types.NotAuthorizedException
		notFound      *types.UserNotFoundException
		notConfirmed  *types.UserNotConfirmedException
	)
	switch {
	case errors.As(err, &notAuthorized):
		return &ProviderError{Kind: KindNotAuthorized, Message: "Invalid email or password"}
	case errors.As(err, &notFound):
		return &ProviderError{Kind: KindUserNotFound, Message: "User not found"}
	case errors.As(err, &notConfirmed):
		return &ProviderError{Kind: KindUserNotConfirmed, Message: "Please confirm your email first"}
	}
	return &ProviderError{Kind: KindOther, Message: "Authentication failed: " + err.Error()}
}

func classifySignUpError(err error) error {
	var (
		usernameExists   *types.UsernameExistsException
		invalidPassword  *types.InvalidPasswordException
		invalidParameter *types.InvalidParameterException
	)
	switch {
	case errors.As(err, &usernameExists):
		return &ProviderError{Kind: KindUsernameExists, Message: "An account with this email already exists"}
	case errors.As(err, &invalidPassword):
		return &ProviderError{Kind: KindInvalidPassword, Message: "Password does not meet requirements"}
	case errors.As(err, &invalidParameter):
		// Pass through the provider's own message (could be email, phone, ...).
		msg := aws.ToString(invalidParameter.Message)
		if msg == "" {
			msg = "Invalid parameter"
		}
		return &ProviderError{Kind: KindInvalidParameter, Message: msg}
	}
	return &ProviderError{Kind: KindOther, Message: "Signup failed: " + err.Error()}
}

func classifyConfirmError(err error) error {
	var (
		codeMismatch *types.CodeMismatchException
		codeExpired  *types.ExpiredCodeException
	)
	switch {
	case errors.As(err, &codeMismatch):
		return &ProviderError{Kind: KindCodeMismatch, Message: "Invalid verification code"}
	case errors.As(err, &codeExpired):
		return &ProviderError{Kind: KindCodeExpired, Message: "Verification code has expired"}
	}
	return &ProviderError{Kind: KindOther, Message: "Confirmation failed: " + err.Error()}
}
