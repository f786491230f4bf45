package postgres

import (
	"database/sql"
	"math/big"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/structs"
	"github.com/pine-finance/relayer-svc/internal/data"
	"gitlab.com/distributed_lab/kit/pgdb"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

const ordersTable = "orders"

type orders struct {
	db *pgdb.DB
}

func NewOrders(db *pgdb.DB) data.Orders {
	return orders{db: db}
}

type orderRow struct {
	ID          string `structs:"id" db:"id"`
	Module      string `structs:"module" db:"module"`
	InputToken  string `structs:"input_token" db:"input_token"`
	OutputToken string `structs:"output_token" db:"output_token"`
	InputAmount string `structs:"input_amount" db:"input_amount"`
	MinReturn   string `structs:"min_return" db:"min_return"`
	Owner       string `structs:"owner" db:"owner"`
	Witness     string `structs:"witness" db:"witness"`
	Secret      string `structs:"secret" db:"secret"`
	Signature   string `structs:"signature" db:"signature"`
	CreatedTx   string `structs:"created_tx" db:"created_tx"`

	ExecutedTx sql.NullString `structs:"executed_tx,omitempty,omitnested" db:"executed_tx"`
}

func (q orders) Exist(id string) (bool, error) {
	var row orderRow
	stmt := squirrel.Select("id").From(ordersTable).Where(squirrel.Eq{"id": id})
	if err := q.db.Get(&row, stmt); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, errors.Wrap(err, "failed to select order id")
	}
	return true, nil
}

func (q orders) Save(o data.Order) error {
	stmt := squirrel.Insert(ordersTable).SetMap(structs.Map(toRow(o))).
		// Only the lazily computed signature and the first terminal tx are
		// mutable; the id uniqueness constraint is the backstop against
		// duplicate insert races across processes.
		Suffix("ON CONFLICT (id) DO UPDATE SET " +
			"signature = EXCLUDED.signature, " +
			"executed_tx = COALESCE(orders.executed_tx, EXCLUDED.executed_tx)")
	err := q.db.Exec(stmt)
	return errors.Wrap(err, "failed to upsert order")
}

func (q orders) Get(id string) (*data.Order, error) {
	var row orderRow
	stmt := selectOrders().Where(squirrel.Eq{"id": id})
	if err := q.db.Get(&row, stmt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to select order")
	}

	o, err := fromRow(row)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (q orders) GetOpen() ([]data.Order, error) {
	var rows []orderRow
	stmt := selectOrders().Where("executed_tx IS NULL")
	if err := q.db.Select(&rows, stmt); err != nil {
		return nil, errors.Wrap(err, "failed to select open orders")
	}
	return fromRows(rows)
}

func (q orders) GetByCreatedTx(hash string) ([]data.Order, error) {
	var rows []orderRow
	stmt := selectOrders().Where(squirrel.Eq{"created_tx": strings.ToLower(hash)})
	if err := q.db.Select(&rows, stmt); err != nil {
		return nil, errors.Wrap(err, "failed to select orders by created tx")
	}
	return fromRows(rows)
}

func selectOrders() squirrel.SelectBuilder {
	return squirrel.Select("id", "module", "input_token", "output_token",
		"input_amount", "min_return", "owner", "witness", "secret",
		"signature", "created_tx", "executed_tx").From(ordersTable)
}

func toRow(o data.Order) orderRow {
	row := orderRow{
		ID:          o.ID,
		Module:      strings.ToLower(o.Module.Hex()),
		InputToken:  strings.ToLower(o.InputToken.Hex()),
		OutputToken: strings.ToLower(o.OutputToken.Hex()),
		InputAmount: o.InputAmount.String(),
		MinReturn:   o.MinReturn.String(),
		Owner:       strings.ToLower(o.Owner.Hex()),
		Witness:     strings.ToLower(o.Witness.Hex()),
		Secret:      o.Secret,
		Signature:   o.Signature,
		CreatedTx:   strings.ToLower(o.CreatedTxHash.Hex()),
	}
	if o.ExecutedTxHash != nil {
		row.ExecutedTx = sql.NullString{String: *o.ExecutedTxHash, Valid: true}
	}
	return row
}

func fromRow(row orderRow) (data.Order, error) {
	inputAmount, ok := new(big.Int).SetString(row.InputAmount, 10)
	if !ok {
		return data.Order{}, errors.Errorf("invalid input_amount stored for order %s", row.ID)
	}
	minReturn, ok := new(big.Int).SetString(row.MinReturn, 10)
	if !ok {
		return data.Order{}, errors.Errorf("invalid min_return stored for order %s", row.ID)
	}

	o := data.Order{
		ID:            row.ID,
		Module:        common.HexToAddress(row.Module),
		InputToken:    common.HexToAddress(row.InputToken),
		OutputToken:   common.HexToAddress(row.OutputToken),
		InputAmount:   inputAmount,
		MinReturn:     minReturn,
		Owner:         common.HexToAddress(row.Owner),
		Witness:       common.HexToAddress(row.Witness),
		Secret:        row.Secret,
		Signature:     row.Signature,
		CreatedTxHash: common.HexToHash(row.CreatedTx),
	}
	if row.ExecutedTx.Valid {
		executed := row.ExecutedTx.String
		o.ExecutedTxHash = &executed
	}
	return o, nil
}

func fromRows(rows []orderRow) ([]data.Order, error) {
	result := make([]data.Order, 0, len(rows))
	for _, row := range rows {
		o, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, nil
}
