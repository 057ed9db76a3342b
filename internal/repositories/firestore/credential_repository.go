package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/vendaflow/fulfillment/internal/domain"
	pfirestore "github.com/vendaflow/fulfillment/internal/platform/firestore"
	"github.com/vendaflow/fulfillment/internal/repositories"
)

const credentialCollection = "serviceCredentials"

// CredentialRepository loads the resource-owner-password credentials used for
// token acquisition against the identity provider.
type CredentialRepository struct {
	base *pfirestore.BaseRepository[credentialDocument]
}

// NewCredentialRepository constructs a Firestore-backed credential repository.
func NewCredentialRepository(provider *pfirestore.Provider) (*CredentialRepository, error) {
	if provider == nil {
		return nil, errors.New("credential repository requires firestore provider")
	}

	base := pfirestore.NewBaseRepository[credentialDocument](provider, credentialCollection, nil, nil)
	return &CredentialRepository{base: base}, nil
}

// FindByClientID looks up the credential registered for the given client id.
func (r *CredentialRepository) FindByClientID(ctx context.Context, clientID string) (domain.ServiceCredential, error) {
	if r == nil || r.base == nil {
		return domain.ServiceCredential{}, errors.New("credential repository not initialised")
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return domain.ServiceCredential{}, errors.New("credential repository: client id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("clientId", "==", clientID).Limit(1)
	})
	if err != nil {
		return domain.ServiceCredential{}, err
	}
	if len(docs) == 0 {
		return domain.ServiceCredential{}, pfirestore.WrapError("firestore: serviceCredentials.find",
			status.Errorf(codes.NotFound, "credential %s not found", clientID))
	}

	doc := docs[0].Data
	return domain.ServiceCredential{
		Realm:        doc.Realm,
		ClientID:     doc.ClientID,
		ClientSecret: doc.ClientSecret,
		Username:     doc.Username,
		Password:     doc.Password,
	}, nil
}

type credentialDocument struct {
	Realm        string `firestore:"realm"`
	ClientID     string `firestore:"clientId"`
	ClientSecret string `firestore:"clientSecret"`
	Username     string `firestore:"username"`
	Password     string `firestore:"password"`
}

var _ repositories.CredentialRepository = (*CredentialRepository)(nil)
