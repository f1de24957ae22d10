package audit

import (
	"context"
	"database/sql/driver"
	"errors"
	"sync/atomic"
)

// Connector wraps a driver connector so every statement executed on its
// connections passes through the Auditor. Each physical connection gets a
// process unique id, and its stack is released when the connection closes.
type Connector struct {
	base    driver.Connector
	auditor *Auditor
	nextID  atomic.Uint64
}

// NewConnector wraps base.
func NewConnector(base driver.Connector, a *Auditor) *Connector {
	return &Connector{base: base, auditor: a}
}

// WrapDriver builds an audited connector for a driver and DSN.
func WrapDriver(d driver.Driver, dsn string, a *Auditor) (*Connector, error) {
	if dc, ok := d.(driver.DriverContext); ok {
		base, err := dc.OpenConnector(dsn)
		if err != nil {
			return nil, err
		}
		return NewConnector(base, a), nil
	}
	return NewConnector(dsnConnector{dsn: dsn, driver: d}, a), nil
}

// Connect implements driver.Connector.
func (c *Connector) Connect(ctx context.Context) (driver.Conn, error) {
	raw, err := c.base.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &conn{Conn: raw, id: c.nextID.Add(1), auditor: c.auditor}, nil
}

// Driver implements driver.Connector.
func (c *Connector) Driver() driver.Driver {
	return c.base.Driver()
}

type dsnConnector struct {
	dsn    string
	driver driver.Driver
}

func (c dsnConnector) Connect(context.Context) (driver.Conn, error) { return c.driver.Open(c.dsn) }
func (c dsnConnector) Driver() driver.Driver                        { return c.driver }

type conn struct {
	driver.Conn
	id      uint64
	auditor *Auditor
}

var (
	_ driver.ExecerContext      = (*conn)(nil)
	_ driver.QueryerContext     = (*conn)(nil)
	_ driver.ConnPrepareContext = (*conn)(nil)
	_ driver.ConnBeginTx        = (*conn)(nil)
	_ driver.Pinger             = (*conn)(nil)
	_ driver.SessionResetter    = (*conn)(nil)
	_ driver.Validator          = (*conn)(nil)
	_ driver.NamedValueChecker  = (*conn)(nil)
)

func (c *conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	execer, ok := c.Conn.(driver.ExecerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	c.auditor.Before(ctx, c.id, query, args)
	res, err := execer.ExecContext(ctx, query, args)
	if errors.Is(err, driver.ErrSkip) {
		c.auditor.Cancel(c.id)
		return nil, err
	}
	c.auditor.After(ctx, c.id, query, args, err)
	return res, err
}

func (c *conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	queryer, ok := c.Conn.(driver.QueryerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	c.auditor.Before(ctx, c.id, query, args)
	rows, err := queryer.QueryContext(ctx, query, args)
	if errors.Is(err, driver.ErrSkip) {
		c.auditor.Cancel(c.id)
		return nil, err
	}
	c.auditor.After(ctx, c.id, query, args, err)
	return rows, err
}

func (c *conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	var (
		st  driver.Stmt
		err error
	)
	if p, ok := c.Conn.(driver.ConnPrepareContext); ok {
		st, err = p.PrepareContext(ctx, query)
	} else {
		st, err = c.Conn.Prepare(query)
	}
	if err != nil {
		return nil, err
	}
	return &stmt{Stmt: st, query: query, conn: c}, nil
}

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if b, ok := c.Conn.(driver.ConnBeginTx); ok {
		return b.BeginTx(ctx, opts)
	}
	//nolint:staticcheck // fallback for drivers without BeginTx
	return c.Conn.Begin()
}

func (c *conn) Ping(ctx context.Context) error {
	if p, ok := c.Conn.(driver.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (c *conn) ResetSession(ctx context.Context) error {
	if r, ok := c.Conn.(driver.SessionResetter); ok {
		return r.ResetSession(ctx)
	}
	return nil
}

func (c *conn) IsValid() bool {
	if v, ok := c.Conn.(driver.Validator); ok {
		return v.IsValid()
	}
	return true
}

func (c *conn) CheckNamedValue(nv *driver.NamedValue) error {
	if chk, ok := c.Conn.(driver.NamedValueChecker); ok {
		return chk.CheckNamedValue(nv)
	}
	return driver.ErrSkip
}

func (c *conn) Close() error {
	c.auditor.Release(c.id)
	return c.Conn.Close()
}

type stmt struct {
	driver.Stmt
	query string
	conn  *conn
}

var (
	_ driver.StmtExecContext   = (*stmt)(nil)
	_ driver.StmtQueryContext  = (*stmt)(nil)
	_ driver.NamedValueChecker = (*stmt)(nil)
)

func (s *stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	a := s.conn.auditor
	a.Before(ctx, s.conn.id, s.query, args)
	var (
		res driver.Result
		err error
	)
	if e, ok := s.Stmt.(driver.StmtExecContext); ok {
		res, err = e.ExecContext(ctx, args)
	} else {
		var values []driver.Value
		if values, err = namedToValues(args); err == nil {
			//nolint:staticcheck // fallback for drivers without ExecContext
			res, err = s.Stmt.Exec(values)
		}
	}
	a.After(ctx, s.conn.id, s.query, args, err)
	return res, err
}

func (s *stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	a := s.conn.auditor
	a.Before(ctx, s.conn.id, s.query, args)
	var (
		rows driver.Rows
		err  error
	)
	if q, ok := s.Stmt.(driver.StmtQueryContext); ok {
		rows, err = q.QueryContext(ctx, args)
	} else {
		var values []driver.Value
		if values, err = namedToValues(args); err == nil {
			//nolint:staticcheck // fallback for drivers without QueryContext
			rows, err = s.Stmt.Query(values)
		}
	}
	a.After(ctx, s.conn.id, s.query, args, err)
	return rows, err
}

func (s *stmt) CheckNamedValue(nv *driver.NamedValue) error {
	if chk, ok := s.Stmt.(driver.NamedValueChecker); ok {
		return chk.CheckNamedValue(nv)
	}
	return s.conn.CheckNamedValue(nv)
}

func namedToValues(args []driver.NamedValue) ([]driver.Value, error) {
	values := make([]driver.Value, len(args))
	for i, a := range args {
		if a.Name != "" {
			return nil, errors.New("driver does not support named parameters")
		}
		values[i] = a.Value
	}
	return values, nil
}
