package ledger

// Statement templates used by the sync engine. They are static and take all
// values as positional parameters.
const (
	// DeclareStaging creates the per-session staging table holding the stock
	// aggregate of the job being projected.
	DeclareStaging = `CREATE TEMP TABLE IF NOT EXISTS stock_staging (
		warehouse_id TEXT,
		article_id TEXT,
		volume INTEGER
	)`

	// ClearStaging empties the staging table. Temp tables keep their rows
	// across transactions, so every job starts by clearing it.
	ClearStaging = `DELETE FROM stock_staging`

	// InsertStaging adds one aggregated row (warehouse xid, article xid, volume).
	InsertStaging = `INSERT INTO stock_staging (warehouse_id, article_id, volume) VALUES (?, ?, ?)`

	// MergeStock upserts the staged volumes into warehouse_stock for one date.
	// Staged rows referencing an article or warehouse unknown to the ledger
	// are skipped by the joins. Existing rows are only touched when the
	// volume differs.
	MergeStock = `INSERT INTO warehouse_stock (date, warehouse, article, volume)
		SELECT ?, w.id, a.id, s.volume
		FROM stock_staging s
		JOIN article a ON a.xid = s.article_id
		JOIN warehouse w ON w.xid = s.warehouse_id
		WHERE true
		ON CONFLICT(warehouse, article, date) DO UPDATE SET
			volume = excluded.volume,
			ts = strftime('%Y-%m-%d %H:%M:%f', 'now')
		WHERE warehouse_stock.volume <> excluded.volume`

	// NullifyStock zeroes the volume of every row for a warehouse xid and
	// date whose article is absent from the staging table.
	NullifyStock = `UPDATE warehouse_stock
		SET volume = 0,
			ts = strftime('%Y-%m-%d %H:%M:%f', 'now')
		WHERE warehouse = (SELECT id FROM warehouse WHERE xid = ?)
		  AND date = ?
		  AND volume <> 0
		  AND article IN (
			SELECT id FROM article
			WHERE xid NOT IN (SELECT article_id FROM stock_staging)
		  )`

	// FindWarehouse looks up the ledger id of a warehouse xid.
	FindWarehouse = `SELECT id FROM warehouse WHERE xid = ?`

	// InsertWarehouse adds a warehouse (xid, name, code).
	InsertWarehouse = `INSERT INTO warehouse (xid, name, code) VALUES (?, ?, ?)`

	// MergeArticle upserts one article keyed by xid. Parameters are name,
	// code, barcodes, package ratio, unit volume, device timestamp and xid.
	// Null ratios and volumes are stored as 0. Unit volumes compare at three
	// decimal places.
	MergeArticle = `INSERT INTO article (name, code, barcodes, package_rel, piece_volume, device_cts, xid)
		VALUES (?, ?, ?, coalesce(?, 0), coalesce(?, 0), ?, ?)
		ON CONFLICT(xid) DO UPDATE SET
			name = excluded.name,
			code = excluded.code,
			barcodes = excluded.barcodes,
			package_rel = excluded.package_rel,
			piece_volume = excluded.piece_volume,
			device_cts = excluded.device_cts,
			ts = strftime('%Y-%m-%d %H:%M:%f', 'now')
		WHERE article.name IS NOT excluded.name
		   OR article.code IS NOT excluded.code
		   OR article.barcodes IS NOT excluded.barcodes
		   OR article.package_rel IS NOT excluded.package_rel
		   OR article.device_cts IS NOT excluded.device_cts
		   OR round(article.piece_volume, 3) IS NOT round(excluded.piece_volume, 3)`
)

// schema is the ledger DDL. It is idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS article (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	xid TEXT NOT NULL UNIQUE,
	name TEXT,
	code TEXT,
	barcodes TEXT,
	package_rel REAL NOT NULL DEFAULT 0,
	piece_volume REAL NOT NULL DEFAULT 0,
	device_cts TEXT,
	ts TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
);

CREATE TABLE IF NOT EXISTS warehouse (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	xid TEXT NOT NULL UNIQUE,
	name TEXT,
	code TEXT,
	ts TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
);

CREATE TABLE IF NOT EXISTS warehouse_stock (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	date TEXT NOT NULL,
	warehouse INTEGER NOT NULL REFERENCES warehouse(id),
	article INTEGER NOT NULL REFERENCES article(id),
	volume INTEGER NOT NULL DEFAULT 0,
	ts TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now')),
	UNIQUE (warehouse, article, date)
);

CREATE INDEX IF NOT EXISTS idx_warehouse_stock_date ON warehouse_stock(warehouse, date);
`
