package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"production-ledger/internal/core"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BomStore keeps headers in boms (routing as JSONB) and the line arena in
// bom_lines. Header writes are guarded by the revision column.
type BomStore struct {
	pool *pgxpool.Pool
}

func NewBomStore(pool *pgxpool.Pool) *BomStore {
	return &BomStore{pool: pool}
}

var _ core.BomStore = (*BomStore)(nil)

const bomColumns = `id, organization_id, product_id, bom_number, version, status, base_quantity,
	material_cost, labor_cost, overhead_cost, total_cost, routing, revision,
	approved_by, approved_at, created_at, updated_at`

func scanBom(row pgx.Row) (*core.BomHeader, error) {
	var b core.BomHeader
	var status string
	var routing []byte
	err := row.Scan(&b.ID, &b.OrgID, &b.ProductID, &b.BomNumber, &b.Version, &status, &b.BaseQuantity,
		&b.MaterialCost, &b.LaborCost, &b.OverheadCost, &b.TotalCost, &routing, &b.Revision,
		&b.ApprovedBy, &b.ApprovedAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Status = core.BomStatus(status)
	if err := json.Unmarshal(routing, &b.Routing); err != nil {
		return nil, fmt.Errorf("failed to decode routing of bom %s: %w", b.ID, err)
	}
	return &b, nil
}

func (s *BomStore) CreateBom(ctx context.Context, bom *core.BomHeader) error {
	routing, err := json.Marshal(bom.Routing)
	if err != nil {
		return fmt.Errorf("failed to encode routing: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO boms (`+bomColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, bom.ID, bom.OrgID, bom.ProductID, bom.BomNumber, bom.Version, string(bom.Status), bom.BaseQuantity,
		bom.MaterialCost, bom.LaborCost, bom.OverheadCost, bom.TotalCost, routing, bom.Revision,
		bom.ApprovedBy, bom.ApprovedAt, bom.CreatedAt, bom.UpdatedAt)
	if pgCode(err) == uniqueViolation {
		return fmt.Errorf("bom %s version %d: %w", bom.BomNumber, bom.Version, core.ErrDuplicateIdentifier)
	}
	if err != nil {
		return fmt.Errorf("failed to insert bom: %w", err)
	}
	return nil
}

func (s *BomStore) GetBom(ctx context.Context, id string) (*core.BomHeader, error) {
	b, err := scanBom(s.pool.QueryRow(ctx, `SELECT `+bomColumns+` FROM boms WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("bom %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read bom %s: %w", id, err)
	}
	return b, nil
}

func (s *BomStore) UpdateBom(ctx context.Context, bom *core.BomHeader) error {
	routing, err := json.Marshal(bom.Routing)
	if err != nil {
		return fmt.Errorf("failed to encode routing: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE boms SET
			status = $3, base_quantity = $4, material_cost = $5, labor_cost = $6,
			overhead_cost = $7, total_cost = $8, routing = $9, approved_by = $10,
			approved_at = $11, updated_at = $12, revision = revision + 1
		WHERE id = $1 AND revision = $2
	`, bom.ID, bom.Revision, string(bom.Status), bom.BaseQuantity, bom.MaterialCost, bom.LaborCost,
		bom.OverheadCost, bom.TotalCost, routing, bom.ApprovedBy, bom.ApprovedAt, bom.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update bom %s: %w", bom.BomNumber, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetBom(ctx, bom.ID); err != nil {
			return err
		}
		return fmt.Errorf("bom %s revision %d is stale: %w", bom.BomNumber, bom.Revision, core.ErrConcurrentUpdate)
	}
	bom.Revision++
	return nil
}

func (s *BomStore) ListBoms(ctx context.Context, orgID, productID string) ([]core.BomHeader, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+bomColumns+`
		FROM boms
		WHERE organization_id = $1 AND ($2 = '' OR product_id = $2)
		ORDER BY bom_number, version
	`, orgID, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query boms: %w", err)
	}
	defer rows.Close()

	var out []core.BomHeader
	for rows.Next() {
		b, err := scanBom(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bom: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

const lineColumns = `id, bom_id, parent_line_id, sequence, component_id, quantity_per_unit, uom,
	scrap_percentage, unit_cost, is_optional, is_phantom, can_substitute`

func scanLine(row pgx.Row) (core.BomLine, error) {
	var l core.BomLine
	err := row.Scan(&l.ID, &l.BomID, &l.ParentLineID, &l.Sequence, &l.ComponentID, &l.QuantityPerUnit, &l.UOM,
		&l.ScrapPercentage, &l.UnitCost, &l.IsOptional, &l.IsPhantom, &l.CanSubstitute)
	return l, err
}

// Lines returns the BOM's lines in insertion order.
func (s *BomStore) Lines(ctx context.Context, bomID string) ([]core.BomLine, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+lineColumns+`
		FROM bom_lines
		WHERE bom_id = $1
		ORDER BY created_seq
	`, bomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bom lines: %w", err)
	}
	defer rows.Close()

	var out []core.BomLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bom line: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *BomStore) GetLine(ctx context.Context, lineID string) (*core.BomLine, error) {
	l, err := scanLine(s.pool.QueryRow(ctx, `SELECT `+lineColumns+` FROM bom_lines WHERE id = $1`, lineID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("bom line %s: %w", lineID, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read bom line %s: %w", lineID, err)
	}
	return &l, nil
}

func (s *BomStore) SaveLine(ctx context.Context, line *core.BomLine) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bom_lines (`+lineColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			parent_line_id    = EXCLUDED.parent_line_id,
			sequence          = EXCLUDED.sequence,
			component_id      = EXCLUDED.component_id,
			quantity_per_unit = EXCLUDED.quantity_per_unit,
			uom               = EXCLUDED.uom,
			scrap_percentage  = EXCLUDED.scrap_percentage,
			unit_cost         = EXCLUDED.unit_cost,
			is_optional       = EXCLUDED.is_optional,
			is_phantom        = EXCLUDED.is_phantom,
			can_substitute    = EXCLUDED.can_substitute
	`, line.ID, line.BomID, line.ParentLineID, line.Sequence, line.ComponentID, line.QuantityPerUnit, line.UOM,
		line.ScrapPercentage, line.UnitCost, line.IsOptional, line.IsPhantom, line.CanSubstitute)
	if pgCode(err) == foreignKeyViolation {
		return fmt.Errorf("bom %s: %w", line.BomID, core.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to save bom line: %w", err)
	}
	return nil
}

func (s *BomStore) DeleteLines(ctx context.Context, bomID string, lineIDs []string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM bom_lines WHERE bom_id = $1 AND id = ANY($2)`, bomID, lineIDs); err != nil {
		return fmt.Errorf("failed to delete bom lines: %w", err)
	}
	return nil
}
