package warehouse

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ViewSQL renders every curated view statement for one kind, in apply order.
// The views select common fields out of the raw payload with SAFE_CAST so a
// malformed upstream value degrades to NULL instead of breaking the view.
func ViewSQL(project, dataset string, kind string) []string {
	certSource := fmt.Sprintf("`%s.%s.%s`", project, dataset, DomesticRawTable)
	recsSource := fmt.Sprintf("`%s.%s.%s`", project, dataset, DomesticRecsRawTable)
	prefix := "enr_domestic"
	certColumns := `
  SAFE_CAST(JSON_VALUE(payload, '$."current-energy-efficiency"') AS INT64)   AS current_energy_efficiency,
  SAFE_CAST(JSON_VALUE(payload, '$."potential-energy-efficiency"') AS INT64) AS potential_energy_efficiency,
  JSON_VALUE(payload, '$.address1')                                          AS address1,
  JSON_VALUE(payload, '$.address2')                                          AS address2,
  JSON_VALUE(payload, '$."property-type"')                                   AS property_type,
  JSON_VALUE(payload, '$."built-form"')                                      AS built_form,
  JSON_VALUE(payload, '$."main-fuel"')                                       AS main_fuel,
  JSON_VALUE(payload, '$."main-heating-description"')                        AS main_heating_description,
  JSON_VALUE(payload, '$."hot-water-description"')                           AS hot_water_description,
  SAFE_CAST(JSON_VALUE(payload, '$."co2-emissions-current"') AS FLOAT64)     AS co2_emissions_current`
	if kind != "domestic" {
		certSource = fmt.Sprintf("`%s.%s.%s`", project, dataset, NonDomesticRawTable)
		recsSource = fmt.Sprintf("`%s.%s.%s`", project, dataset, NonDomesticRecsRawTable)
		prefix = "enr_non_domestic"
		certColumns = `
  JSON_VALUE(payload, '$."building-category"')                   AS building_category,
  JSON_VALUE(payload, '$."lodgement-type"')                      AS lodgement_type,
  SAFE_CAST(JSON_VALUE(payload, '$."asset-rating"') AS FLOAT64)  AS asset_rating,
  SAFE_CAST(JSON_VALUE(payload, '$."co2-emissions"') AS FLOAT64) AS co2_emissions`
	}

	certView := fmt.Sprintf("`%s.%s.%s_certificates_v`", project, dataset, prefix)
	latestView := fmt.Sprintf("`%s.%s.%s_latest_by_lmk`", project, dataset, prefix)
	recsView := fmt.Sprintf("`%s.%s.%s_recommendations_v`", project, dataset, prefix)
	withRecsView := fmt.Sprintf("`%s.%s.%s_cert_with_recs_v`", project, dataset, prefix)

	return []string{
		fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS
SELECT
  lmk_key,
  lodgement_date,
  postcode,
  uprn,%s
FROM %s;`, certView, certColumns, certSource),

		fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS
SELECT *
FROM %s
QUALIFY ROW_NUMBER() OVER (
  PARTITION BY lmk_key
  ORDER BY lodgement_date DESC
) = 1;`, latestView, certView),

		fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS
SELECT
  lmk_key,
  lodgement_date,
  JSON_VALUE(payload, '$."improvement-description"') AS improvement_description,
  JSON_VALUE(payload, '$."indicative-cost"')         AS indicative_cost,
  JSON_VALUE(payload, '$."typical-saving"')          AS typical_saving,
  payload
FROM %s;`, recsView, recsSource),

		fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS
SELECT
  c.*,
  (SELECT ARRAY_AGG(r.payload) FROM %s AS r WHERE r.lmk_key = c.lmk_key) AS recommendations
FROM %s AS c;`, withRecsView, recsSource, certView),
	}
}

// ApplyViews creates or replaces the curated views for both kinds.
func (l *Loader) ApplyViews(ctx context.Context) error {
	for _, kind := range []string{"domestic", "non-domestic"} {
		for _, sql := range ViewSQL(l.client.Project(), l.dataset, kind) {
			q := l.client.Query(sql)
			q.Location = l.location
			job, err := q.Run(ctx)
			if err != nil {
				return fmt.Errorf("run view statement: %w", err)
			}
			status, err := job.Wait(ctx)
			if err != nil {
				return fmt.Errorf("wait for view statement: %w", err)
			}
			if err := status.Err(); err != nil {
				return fmt.Errorf("view statement failed: %w", err)
			}
		}
		l.log.Info("applied curated views", zap.String("kind", kind))
	}
	return nil
}
