package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/vendaflow/fulfillment/internal/domain"
	pfirestore "github.com/vendaflow/fulfillment/internal/platform/firestore"
	"github.com/vendaflow/fulfillment/internal/repositories"
)

const deliveryCollection = "deliveries"

// DeliveryRepository persists fulfillment records in Firestore. Documents are
// keyed by the originating order id so redelivered events collapse onto the
// same record.
type DeliveryRepository struct {
	base     *pfirestore.BaseRepository[deliveryDocument]
	provider *pfirestore.Provider
}

// NewDeliveryRepository constructs a Firestore-backed delivery repository.
func NewDeliveryRepository(provider *pfirestore.Provider) (*DeliveryRepository, error) {
	if provider == nil {
		return nil, errors.New("delivery repository requires firestore provider")
	}

	base := pfirestore.NewBaseRepository[deliveryDocument](provider, deliveryCollection, nil, nil)
	return &DeliveryRepository{base: base, provider: provider}, nil
}

// Upsert creates the delivery when absent. An existing document is left
// untouched so a redelivery cannot rewind the status of a record that already
// moved past PROCESSING.
func (r *DeliveryRepository) Upsert(ctx context.Context, delivery domain.Delivery) error {
	if r == nil || r.base == nil {
		return errors.New("delivery repository not initialised")
	}
	if strings.TrimSpace(delivery.ID) == "" {
		return errors.New("delivery repository: delivery id is required")
	}

	_, err := r.base.Create(ctx, delivery.ID, fromDomainDelivery(delivery))
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return nil
		}
		return err
	}
	return nil
}

// UpdateStatus transitions the delivery to the provided status.
func (r *DeliveryRepository) UpdateStatus(ctx context.Context, deliveryID string, status domain.DeliveryStatus, updatedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("delivery repository not initialised")
	}
	if strings.TrimSpace(deliveryID) == "" {
		return errors.New("delivery repository: delivery id is required")
	}

	_, err := r.base.Update(ctx, deliveryID, []firestore.Update{
		{Path: "status", Value: string(status)},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	})
	return err
}

// Delete removes the delivery by id.
func (r *DeliveryRepository) Delete(ctx context.Context, deliveryID string) error {
	if r == nil || r.base == nil {
		return errors.New("delivery repository not initialised")
	}
	if strings.TrimSpace(deliveryID) == "" {
		return errors.New("delivery repository: delivery id is required")
	}

	_, err := r.base.Delete(ctx, deliveryID, firestore.Exists)
	return err
}

// DeleteByStatus removes every delivery in the given status and reports how
// many documents were deleted. The query and deletes run inside one
// transaction so a concurrent status change cannot leave a partial purge.
func (r *DeliveryRepository) DeleteByStatus(ctx context.Context, status domain.DeliveryStatus) (int, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("delivery repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("firestore: deliveries.deleteByStatus", err)
	}

	deleted := 0
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		deleted = 0
		query := client.Collection(deliveryCollection).Where("status", "==", string(status))
		docs, err := tx.Documents(query).GetAll()
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if err := tx.Delete(doc.Ref); err != nil {
				return err
			}
		}
		deleted = len(docs)
		return nil
	})
	if err != nil {
		return 0, pfirestore.WrapError("firestore: deliveries.deleteByStatus", err)
	}
	return deleted, nil
}

// FindByID loads the delivery by id.
func (r *DeliveryRepository) FindByID(ctx context.Context, deliveryID string) (domain.Delivery, error) {
	if r == nil || r.base == nil {
		return domain.Delivery{}, errors.New("delivery repository not initialised")
	}
	if strings.TrimSpace(deliveryID) == "" {
		return domain.Delivery{}, errors.New("delivery repository: delivery id is required")
	}

	doc, err := r.base.Get(ctx, deliveryID)
	if err != nil {
		return domain.Delivery{}, err
	}
	return toDomainDelivery(doc.ID, doc.Data), nil
}

// List returns a page of deliveries sorted by creation time, newest first.
func (r *DeliveryRepository) List(ctx context.Context, filter repositories.DeliveryListFilter) (domain.CursorPage[domain.Delivery], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Delivery]{}, errors.New("delivery repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Delivery]{}, fmt.Errorf("delivery repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.Status != nil {
			q = q.Where("status", "==", string(*filter.Status))
		}
		if filter.CreatedAfter != nil && !filter.CreatedAfter.IsZero() {
			q = q.Where("createdAt", ">", filter.CreatedAfter.UTC())
		}
		if filter.CreatedBefore != nil && !filter.CreatedBefore.IsZero() {
			q = q.Where("createdAt", "<", filter.CreatedBefore.UTC())
		}

		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Delivery]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Delivery, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, toDomainDelivery(doc.ID, doc.Data))
	}

	return domain.CursorPage[domain.Delivery]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type deliveryDocument struct {
	SKU            string    `firestore:"sku"`
	ProductTitle   string    `firestore:"productTitle"`
	CPF            string    `firestore:"cpf"`
	CustomerName   string    `firestore:"customerName"`
	UnitPriceCents int64     `firestore:"unitPriceCents"`
	Quantity       int       `firestore:"quantity"`
	TotalCents     int64     `firestore:"totalCents"`
	Status         string    `firestore:"status"`
	CreatedAt      time.Time `firestore:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

func fromDomainDelivery(delivery domain.Delivery) deliveryDocument {
	return deliveryDocument{
		SKU:            strings.TrimSpace(delivery.SKU),
		ProductTitle:   strings.TrimSpace(delivery.ProductTitle),
		CPF:            strings.TrimSpace(delivery.CPF),
		CustomerName:   strings.TrimSpace(delivery.CustomerName),
		UnitPriceCents: delivery.UnitPrice,
		Quantity:       delivery.Quantity,
		TotalCents:     delivery.Total,
		Status:         string(delivery.Status),
		CreatedAt:      delivery.CreatedAt.UTC(),
		UpdatedAt:      delivery.UpdatedAt.UTC(),
	}
}

func toDomainDelivery(id string, doc deliveryDocument) domain.Delivery {
	return domain.Delivery{
		ID:           id,
		SKU:          doc.SKU,
		ProductTitle: doc.ProductTitle,
		CPF:          doc.CPF,
		CustomerName: doc.CustomerName,
		UnitPrice:    doc.UnitPriceCents,
		Quantity:     doc.Quantity,
		Total:        doc.TotalCents,
		Status:       domain.DeliveryStatus(doc.Status),
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
}

var _ repositories.DeliveryRepository = (*DeliveryRepository)(nil)
