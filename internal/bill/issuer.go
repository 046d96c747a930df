package bill

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	billdomain "github.com/smallbiznis/chargeflow/internal/bill/domain"
	"github.com/smallbiznis/chargeflow/internal/config"
	obslogger "github.com/smallbiznis/chargeflow/internal/observability/logger"
	"github.com/smallbiznis/chargeflow/pkg/db/option"
	"github.com/smallbiznis/chargeflow/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	contentTypePDF  = "application/pdf"
	issueDateLayout = "2006-01-02 15:04"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Storage billdomain.Storage
	Config  *config.ChargingConfigHolder `optional:"true"`
}

type Issuer struct {
	log     *zap.Logger
	genID   *snowflake.Node
	storage billdomain.Storage
	config  *config.ChargingConfigHolder
	repo    repository.Repository[billdomain.Bill]
}

func NewIssuer(p Params) billdomain.Issuer {
	return &Issuer{
		log:     p.Log.Named("bill.issuer"),
		genID:   p.GenID,
		storage: p.Storage,
		config:  p.Config,
		repo:    repository.ProvideStore[billdomain.Bill](p.DB),
	}
}

func (i *Issuer) Issue(ctx context.Context, tx *gorm.DB, req billdomain.IssueRequest) (*billdomain.Bill, error) {
	purchase := req.Purchase
	if purchase == nil {
		return nil, billdomain.ErrMissingPurchase
	}

	issuedAt := req.IssuedAt.UTC()
	reference := NewReference(purchase.Offering.Name, issuedAt)

	doc := Document{
		StoreName:       i.storeName(),
		Reference:       reference,
		IssueDate:       issuedAt.Format(issueDateLayout),
		CustomerName:    purchase.CustomerName(),
		Country:         purchase.Country,
		OfferingName:    purchase.Offering.Name,
		OfferingVersion: purchase.Offering.Version,
		Organization:    purchase.Offering.Organization,
		Concept:         req.Concept,
		Total:           req.Total.StringFixed(2),
		Currency:        req.Currency,
	}
	for _, line := range req.Lines {
		doc.Lines = append(doc.Lines, DocumentLine{Concept: line.Concept, Amount: line.Cost.StringFixed(2)})
	}
	if len(doc.Lines) == 0 {
		doc.Lines = []DocumentLine{{Concept: req.Concept, Amount: doc.Total}}
	}

	pdf, err := renderPDF(doc)
	if err != nil {
		return nil, fmt.Errorf("render bill: %w", err)
	}
	key := fmt.Sprintf("%s/%s.pdf", purchase.ID.String(), reference)
	location, err := i.storage.Put(ctx, key, pdf, contentTypePDF)
	if err != nil {
		return nil, fmt.Errorf("store bill: %w", err)
	}

	bill := &billdomain.Bill{
		ID:         i.genID.Generate(),
		Reference:  reference,
		PurchaseID: purchase.ID,
		Concept:    req.Concept,
		Amount:     req.Total,
		Currency:   req.Currency,
		Location:   location,
		IssuedAt:   issuedAt,
	}
	repo := i.repo
	if tx != nil {
		repo = repo.WithTrx(tx)
	}
	if err := repo.Create(ctx, bill); err != nil {
		return nil, err
	}

	obslogger.WithContext(ctx, i.log).Info("bill issued",
		zap.String("purchase_id", purchase.ID.String()),
		zap.String("reference", reference),
		zap.String("concept", req.Concept),
		zap.String("price", req.Total.String()),
	)
	return bill, nil
}

func (i *Issuer) ListByPurchase(ctx context.Context, purchaseID snowflake.ID) ([]*billdomain.Bill, error) {
	return i.repo.Find(ctx, &billdomain.Bill{PurchaseID: purchaseID},
		option.WithSortBy(option.WithQuerySortBy("issued_at", "asc", map[string]bool{"issued_at": true})),
	)
}

func (i *Issuer) storeName() string {
	cfg := config.DefaultChargingConfig()
	if i.config != nil {
		cfg = i.config.Get()
	}
	return strings.TrimSpace(cfg.StoreName)
}
