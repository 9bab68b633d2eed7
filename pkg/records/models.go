// Package records persists service-form submissions in the local durable
// store while the gateway is offline and tracks their synchronization state.
package records

import (
	"encoding/json"
	"time"
)

// SchemaVersion is the fixed schema version of the formularios store.
// Bump only together with a migration of the table layout.
const SchemaVersion = 2

// FormRecord is the GORM model for a locally captured service form.
//
// The domain fields mirror what the field technician fills in and are opaque
// to the sync machinery; only the bookkeeping columns (synced, chave,
// server_id, synced_at) participate in reconciliation.
type FormRecord struct {
	ID          uint   `gorm:"primaryKey;column:id" json:"id"`
	Cliente     string `gorm:"column:cliente" json:"cliente"`
	Equipamento string `gorm:"column:equipamento" json:"equipamento"`
	Servico     string `gorm:"column:servico" json:"servico"`
	Observacoes string `gorm:"column:observacoes" json:"observacoes"`

	// Fotos, Assinaturas and Materiais hold JSON-encoded lists captured by
	// the form client (photo references, signature strokes, used materials).
	Fotos       string `gorm:"column:fotos;type:text" json:"fotos,omitempty"`
	Assinaturas string `gorm:"column:assinaturas;type:text" json:"assinaturas,omitempty"`
	Materiais   string `gorm:"column:materiais;type:text" json:"materiais,omitempty"`

	// Synced is false until the backend has accepted this record.
	Synced bool `gorm:"column:synced;index:idx_formularios_synced;not null;default:false" json:"synced"`

	// UniqueKey is the idempotency token sent as "chave" with every
	// submission attempt. Assigned once at creation, never regenerated.
	UniqueKey string `gorm:"column:chave;uniqueIndex:idx_formularios_chave;type:varchar(36);not null" json:"chave"`

	// ServerID is the backend-assigned identifier, set when the record syncs.
	ServerID *int64 `gorm:"column:server_id" json:"serverId,omitempty"`

	// SyncedAt records when the backend accepted the record.
	SyncedAt *time.Time `gorm:"column:synced_at" json:"syncedAt,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

// TableName returns the GORM table name.
func (FormRecord) TableName() string { return "formularios" }

// JSONDados returns the domain payload submitted to the backend as the
// json_dados field. JSON-encoded list columns are embedded as raw JSON when
// valid so the backend receives arrays, not quoted strings.
func (r *FormRecord) JSONDados() map[string]any {
	dados := map[string]any{
		"id":          r.ID,
		"cliente":     r.Cliente,
		"equipamento": r.Equipamento,
		"servico":     r.Servico,
		"observacoes": r.Observacoes,
	}
	putJSONList(dados, "fotos", r.Fotos)
	putJSONList(dados, "assinaturas", r.Assinaturas)
	putJSONList(dados, "materiais", r.Materiais)
	return dados
}

// putJSONList embeds v as raw JSON when it parses, as a plain string when it
// does not, and omits it entirely when empty.
func putJSONList(dados map[string]any, key, v string) {
	if v == "" {
		return
	}
	if json.Valid([]byte(v)) {
		dados[key] = json.RawMessage(v)
		return
	}
	dados[key] = v
}

// schemaInfo records the schema version of a named store.
type schemaInfo struct {
	Name    string `gorm:"primaryKey;column:name;type:varchar(64)"`
	Version int    `gorm:"column:version;not null"`
}

// TableName returns the GORM table name.
func (schemaInfo) TableName() string { return "schema_info" }
