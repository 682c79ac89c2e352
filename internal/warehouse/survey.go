package warehouse

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/market-forecast/internal/survey"
)

const surveyUsageSQL = `
	SELECT p.period_end, COALESCE(r.area, ''), t.region, r.respondent_id,
	       r.service_1, r.service_2, r.service_3, r.service_4, r.service_5, r.other_services
	FROM analytics.survey_responses r
	JOIN analytics.periods p ON p.id = r.period_id
	JOIN analytics.territories t ON t.territory = r.territory
	ORDER BY p.period_end, t.region, r.respondent_id`

// SurveyUsage returns every respondent's service counts per period.
func (w *Warehouse) SurveyUsage(ctx context.Context) ([]survey.UsageRow, error) {
	return query(ctx, w, "survey usage", func(ctx context.Context) ([]survey.UsageRow, error) {
		rows, err := w.pool.Query(ctx, surveyUsageSQL)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []survey.UsageRow
		for rows.Next() {
			var r survey.UsageRow
			var s [6]float64
			if err := rows.Scan(&r.Date, &r.Area, &r.Region, &r.Respondent,
				&s[0], &s[1], &s[2], &s[3], &s[4], &s[5]); err != nil {
				return nil, eris.Wrap(err, "scan survey row")
			}
			r.Counts = make(map[string]float64, len(s))
			for i, svc := range survey.DefaultServices {
				r.Counts[svc] = s[i]
			}
			out = append(out, r)
		}
		return out, rows.Err()
	})
}

const sampleSizesSQL = `
	SELECT p.period_end, t.region, COUNT(DISTINCT r.respondent_id)
	FROM analytics.survey_responses r
	JOIN analytics.periods p ON p.id = r.period_id
	JOIN analytics.territories t ON t.territory = r.territory
	GROUP BY p.period_end, t.region
	ORDER BY p.period_end, t.region`

// SampleSizes returns the distinct respondent count per period and region.
func (w *Warehouse) SampleSizes(ctx context.Context) ([]survey.SampleSize, error) {
	return query(ctx, w, "sample sizes", func(ctx context.Context) ([]survey.SampleSize, error) {
		rows, err := w.pool.Query(ctx, sampleSizesSQL)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []survey.SampleSize
		for rows.Next() {
			var s survey.SampleSize
			if err := rows.Scan(&s.Date, &s.Region, &s.Size); err != nil {
				return nil, eris.Wrap(err, "scan sample size row")
			}
			out = append(out, s)
		}
		return out, rows.Err()
	})
}

// ServiceUsage is the share of a territory's sample that used an online
// service in a period.
type ServiceUsage struct {
	Date             time.Time `json:"date"`
	Period           string    `json:"time"`
	Region           string    `json:"region"`
	Territory        string    `json:"territory"`
	OnlineService    string    `json:"online_service"`
	NumUsers         int64     `json:"num_users"`
	SampleSize       int64     `json:"sample_size"`
	PercentOfSample  float64   `json:"percent_of_sample"`
	ServiceTypeField string    `json:"service_type_field"`
	ServiceType      string    `json:"service_type"`
	Flag             string    `json:"forecast_flag"`
}

const serviceUsageSQL = `
	WITH n AS (
		SELECT r.period_id, r.territory, COUNT(DISTINCT r.respondent_id) AS sample_size
		FROM analytics.survey_responses r
		GROUP BY r.period_id, r.territory
	), u AS (
		SELECT su.period_id, r.territory, su.online_service,
		       COALESCE(su.service_type_field, '') AS service_type_field,
		       COUNT(DISTINCT su.respondent_id) AS num_users
		FROM analytics.service_usage su
		JOIN analytics.survey_responses r
		  ON r.period_id = su.period_id AND r.respondent_id = su.respondent_id
		WHERE su.used_in_month = 'Yes'
		GROUP BY su.period_id, r.territory, su.online_service, su.service_type_field
	)
	SELECT p.period_end, p.label, t.region, u.territory, u.online_service,
	       u.num_users, n.sample_size, u.service_type_field
	FROM u
	JOIN n ON n.period_id = u.period_id AND n.territory = u.territory
	JOIN analytics.periods p ON p.id = u.period_id
	JOIN analytics.territories t ON t.territory = u.territory`

// ServiceUsage returns per-service usage sorted by territory, service and
// date.
func (w *Warehouse) ServiceUsage(ctx context.Context) ([]ServiceUsage, error) {
	out, err := query(ctx, w, "service usage", func(ctx context.Context) ([]ServiceUsage, error) {
		rows, err := w.pool.Query(ctx, serviceUsageSQL)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []ServiceUsage
		for rows.Next() {
			var u ServiceUsage
			if err := rows.Scan(&u.Date, &u.Period, &u.Region, &u.Territory, &u.OnlineService,
				&u.NumUsers, &u.SampleSize, &u.ServiceTypeField); err != nil {
				return nil, eris.Wrap(err, "scan service usage row")
			}
			if u.SampleSize > 0 {
				u.PercentOfSample = float64(u.NumUsers) / float64(u.SampleSize)
			}
			u.ServiceType = ServiceType(u.ServiceTypeField)
			u.Flag = "A"
			out = append(out, u)
		}
		return out, rows.Err()
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Territory != b.Territory {
			return a.Territory < b.Territory
		}
		if a.OnlineService != b.OnlineService {
			return a.OnlineService < b.OnlineService
		}
		return a.Date.Before(b.Date)
	})
	return out, nil
}

// ServiceType buckets the raw service type field: Type1 to Type6 map to
// type1 to type6 and anything else to "other".
func ServiceType(field string) string {
	switch field {
	case "Type1", "Type2", "Type3", "Type4", "Type5", "Type6":
		return "type" + field[len("Type"):]
	default:
		return "other"
	}
}
